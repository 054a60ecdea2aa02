// Package cca controls a cold cartridge assembly: the SIS mixer bias, SIS
// magnet, LNA bias and cartridge temperature subsystems of one receiver band,
// reached through an FEMC module port.
//
// Monitor getters substitute zero or false when the hardware does not answer;
// absence of a reading is routine on a flaky bus and never an error. Errors
// are reserved for structural impossibilities, such as asking a band below 3
// for its SIS bias.
package cca

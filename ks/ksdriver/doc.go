// Package ksdriver contains types for the driver to interact with the consensus engine.
// The driver is the execution collaborator: it owns the EVM-compatible state machine,
// while the engine owns agreement.
// The term driver disambiguates this low-level interface from the userspace
// application running on top of the executed state.
package ksdriver

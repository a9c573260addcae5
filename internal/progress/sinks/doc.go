// Package sinks holds the consumers a progress Hub fans events out to.
package sinks

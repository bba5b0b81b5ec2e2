// Package logging is a small leveled logging helper shared by the call
// controller and the rendezvous broker, generalized from the two
// logInfo/logError free functions the teacher duplicated per package.
package logging

import "log"

// Fields is a flat key/value bag rendered after the message.
type Fields map[string]interface{}

// Info logs an informational event.
func Info(msg string, fields Fields) {
	log.Printf("[INFO] %s | %v", msg, fields)
}

// Error logs a failure, pairing the message with the originating error.
func Error(msg string, err error, fields Fields) {
	log.Printf("[ERROR] %s: %v | %v", msg, err, fields)
}

// Package queue is the rotation state machine.
//
// The engine owns the ordered user queue and the single active reminder
// cycle. Scheduler triggers and chat commands are serialized onto one
// mutation path behind the engine mutex; every mutation persists before it
// notifies, so a failed Telegram send never desyncs the stored state.
package queue

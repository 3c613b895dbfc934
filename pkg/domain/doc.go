// Package domain holds the conversation and message types plus the
// user-facing error strings of the chat API.
//
// Nothing here imports storage, transport or provider code; those layers
// import domain instead.
package domain

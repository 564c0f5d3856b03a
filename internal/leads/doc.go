// Package leads persists caller contact information captured during calls.
package leads

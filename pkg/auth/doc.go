// Package auth holds the identity and role data model shared by the
// gatekeeping layer, the error taxonomy surfaced to callers, and the
// CredentialStore boundary through which identity data is read and the
// renewal-session history is written.
package auth

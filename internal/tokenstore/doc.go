// Package tokenstore provides durable key/value storage for session credentials.
//
// Supports several storage backends with different security and deployment tradeoffs:
//   - File: Local filesystem storage with atomic writes and secure permissions
//   - Env: Read-only environment variable access (requires external secret management)
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Redis: Shared storage so several processes can reuse one session
//   - Memory: Process-local storage without durability, for tests and ephemeral sessions
//
// Refreshing sessions require writable storage (everything but env), while a
// static bearer token can use any backend including read-only env storage.
package tokenstore

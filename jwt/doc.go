// Package jwt issues and verifies the bearer tokens handed out by the account
// service. The session engine treats tokens as opaque; only the account
// service side (and its test double) parses them.
package jwt

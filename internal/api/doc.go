// Package api implements the HTTP surface of the account service: request
// decoding, the uniform response envelope, cookie handling, and the account
// workflow handlers that tie the credential store, token service, and media
// gateway together.
package api

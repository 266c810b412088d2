// Package identity authenticates operators of the admin API.
//
// Admin tokens are HS256 JWTs signed with a shared secret and carry
// Role="admin". They are minted by fgctl or any tool holding the secret.
package identity

//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

// passwordHashCost falls back to the library default under the race
// detector, where cost 12 makes every signup and login crawl.
func passwordHashCost() int {
	return bcrypt.DefaultCost
}

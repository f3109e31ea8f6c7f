//go:build !race

package auth

// passwordHashCost is the cost NewBcryptHasher(0) hashes with
func passwordHashCost() int {
	return 12
}

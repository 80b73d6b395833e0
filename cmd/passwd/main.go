// passwd generates the "name:bcrypt-hash" user seed entries consumed by the
// USERS environment variable.
//
// Usage:
//
//	passwd <name> <password>
package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: passwd <name> <password>")
		os.Exit(2)
	}
	name, password := os.Args[1], os.Args[2]

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s:%s\n", name, hash)
}

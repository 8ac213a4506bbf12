package main

import (
	"fmt"
	"os"
	"runtime"
	"syscall"

	"golang.org/x/term"
)

// zeroBytes overwrites a byte slice with zeros
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}

// getPassword reads the storage password from envVar, or prompts for it.
func getPassword(envVar string) ([]byte, error) {
	if envPass := os.Getenv(envVar); envPass != "" {
		return []byte(envPass), nil
	}

	password, err := readPassword("Storage password: ", envVar)
	if err != nil {
		return nil, err
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("empty password")
	}
	return password, nil
}

func readPassword(prompt, envVar string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)

	var password []byte
	var err error

	if term.IsTerminal(int(syscall.Stdin)) {
		password, err = term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
	} else {
		// stdin may carry a key file for import-keys; ask the terminal directly
		tty, ttyErr := os.Open("/dev/tty")
		if ttyErr != nil {
			return nil, fmt.Errorf("cannot read password: STDIN is piped and /dev/tty is not available. Set %s", envVar)
		}
		defer tty.Close()

		password, err = term.ReadPassword(int(tty.Fd()))
		fmt.Fprintln(os.Stderr)
	}

	if err != nil {
		return nil, err
	}
	return password, nil
}

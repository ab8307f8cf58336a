package main

import "time"

// GlobalFlags holds the persistent flags shared by client commands.
type GlobalFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
	JSON       bool
}

type ServeFlags struct {
	ConfigPath string
}

type RegisterFlags struct {
	Name    string
	Command string
	Args    []string
}

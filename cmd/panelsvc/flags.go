package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	// Remote daemon connection; derived from [server] when empty
	APIUrl     string
	APITimeout time.Duration
}

// ServeFlags override the [server] section and control daemon mode.
type ServeFlags struct {
	Engine    string
	Listen    string
	BasePath  string
	Daemonize bool
	PidFile   string
	LogFile   string
	// For tests: start, run one startup/shutdown cycle and return
	NonBlocking bool
}

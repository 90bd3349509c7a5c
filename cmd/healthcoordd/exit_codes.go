package main

// Exit codes, mirroring the teacher's cmd/mcpproxy/exit_codes.go convention
// of giving the process launcher specific codes to branch on rather than a
// single generic failure code.
const (
	ExitCodeSuccess       = 0
	ExitCodeGeneralError  = 1
	ExitCodeConfigError   = 2
	ExitCodePortConflict  = 3
	ExitCodeInterrupted   = 130
)

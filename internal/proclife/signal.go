package proclife

import "syscall"

// terminateSignal is sent as the escalation step between a protocol
// interrupt and an outright kill (spec §4.C).
var terminateSignal = syscall.SIGTERM

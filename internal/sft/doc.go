// Package sft implements the system failure tracer.
//
// Many physical devices contribute to one logical vehicle system: a
// wheel-speed sensor may feed both "WSC" and "ESC". The tracer keeps a
// reference count per device and per system:
//
//	tracer.MarkDevice("wheel-fl", "WSC", "ESC")
//	tracer.Fail("wheel-fl", err)   // Suspension(WSC), Suspension(ESC)
//	tracer.Recover("wheel-fl")     // SuspensionExit once a count reaches zero
//
// Every Fail emits, even for a system that is already down, so operators
// see each concurrent cause. A system with two failing devices resumes
// only after both recover. Systems no device is marked with are OK.
//
// Events go to a Suspender (the vehicle context) and, optionally, a
// Journal. Callback plugs the tracer into a service callback chain.
package sft

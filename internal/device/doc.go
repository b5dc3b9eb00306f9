// Package device provides the tag-addressed hardware tree for AssistDrive Core.
//
// Every piece of hardware on the vehicle is a Device with a tag that is
// unique across the whole process. Controllers own child Devices and decide
// their initialization order. Services from the fabric layer are Devices
// too, so a telemetry server and the sensors that connect to it live in the
// same tree.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────┐
//	│                     Registry (flat)                       │
//	│   "vehicle" "chassis" "telemetry-server" "wheel-fl" ...   │
//	└──────────────────────────────────────────────────────────┘
//	                 ▲ Register / Lookup
//	┌──────────────────────────────────────────────────────────┐
//	│ Controller "vehicle"                                      │
//	│   ├── Server "telemetry-server"   (initialized first)     │
//	│   └── Controller "chassis"                                │
//	│         ├── Entity "wheel-fl"  parent_tags=[vehicle       │
//	│         └── Entity "gps"                   chassis]       │
//	└──────────────────────────────────────────────────────────┘
//
// Lookups by tag go through the Registry. ParentTags records the path from
// the root for diagnostics only.
//
// # Initialization Order
//
// A Controller initializes itself, then each child in registration order.
// A child Controller recurses before the next sibling starts, so
// registration order encodes dependencies: register a Server before the
// Clients that connect to it.
//
// # Thread Safety
//
// Registry and Controller methods are safe for concurrent use.
package device

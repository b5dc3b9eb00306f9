package service

import (
	"github.com/nerrad567/assistdrive-core/internal/device"
	"github.com/nerrad567/assistdrive-core/internal/fabric"
)

// linked is implemented by Client and Entity.
type linked interface {
	Tag() string
	Conn() *fabric.Conn
}

// CollectLinks returns the live link statistics of every service among
// devices, keyed by service tag. Clients without a connection and other
// device kinds are skipped.
func CollectLinks(devices []device.Device) map[string][]fabric.ConnStats {
	links := make(map[string][]fabric.ConnStats)
	for _, d := range devices {
		switch svc := d.(type) {
		case *Server:
			if stats := svc.Stats().LinkStats; len(stats) > 0 {
				links[svc.Tag()] = stats
			}
		case linked:
			if conn := svc.Conn(); conn != nil {
				links[svc.Tag()] = []fabric.ConnStats{conn.Stats()}
			}
		}
	}
	return links
}

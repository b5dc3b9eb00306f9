package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/assistdrive-core/internal/device"
	"github.com/nerrad567/assistdrive-core/internal/fabric"
	"github.com/nerrad567/assistdrive-core/internal/service"
)

// Device kinds reported by the API.
const (
	kindController = "controller"
	kindSensor     = "sensor"
	kindEntity     = "entity"
	kindClient     = "client"
	kindServer     = "server"
	kindDevice     = "device"
)

// deviceView is the JSON representation of one node in the device tree.
type deviceView struct {
	Tag      string             `json:"tag"`
	Kind     string             `json:"kind"`
	Parents  []string           `json:"parents"`
	Systems  []string           `json:"systems"`
	OK       bool               `json:"ok"`
	Failures int                `json:"failures"`
	State    string             `json:"state,omitempty"`
	Links    []fabric.ConnStats `json:"links,omitempty"`
	Value    any                `json:"value,omitempty"`
}

func kindOf(d device.Device) string {
	switch d.(type) {
	case *device.Controller:
		return kindController
	case *device.Sensor:
		return kindSensor
	case *service.Entity:
		return kindEntity
	case *service.Client:
		return kindClient
	case *service.Server:
		return kindServer
	default:
		return kindDevice
	}
}

// viewDevice builds the view of d. failures is the tracer's outstanding
// failure count per device tag.
func (s *Server) viewDevice(d device.Device, failures map[string]int) deviceView {
	v := deviceView{
		Tag:      d.Tag(),
		Kind:     kindOf(d),
		Parents:  d.ParentTags(),
		Systems:  s.tracer.Systems(d.Tag()),
		Failures: failures[d.Tag()],
	}
	v.OK = v.Failures == 0
	if v.Parents == nil {
		v.Parents = []string{}
	}
	if v.Systems == nil {
		v.Systems = []string{}
	}
	if svc, ok := d.(service.Service); ok {
		v.State = svc.State().String()
	}
	v.Links = service.CollectLinks([]device.Device{d})[d.Tag()]
	return v
}

// handleListDevices returns every registered device sorted by tag.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	failures := s.tracer.Snapshot().DeviceFailures

	devices := s.devices.Devices()
	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, s.viewDevice(d, failures))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Tag < views[j].Tag })

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": views,
		"count":   len(views),
	})
}

// handleGetDevice returns one device with its current value.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	d, err := s.devices.Lookup(tag)
	if errors.Is(err, device.ErrUnmappedTag) {
		writeNotFound(w, "device not found: "+tag)
		return
	}
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}

	v := s.viewDevice(d, s.tracer.Snapshot().DeviceFailures)
	if value, err := d.Read(); err == nil {
		v.Value = value
	}
	writeJSON(w, http.StatusOK, v)
}

// handleIdentity returns the identity registry state.
func (s *Server) handleIdentity(w http.ResponseWriter, _ *http.Request) {
	if s.identity == nil {
		writeUnavailable(w, "identity registry is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.identity.Snapshot())
}

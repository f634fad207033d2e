package main

import (
	"github.com/chazu/millwright/pkg/geom"
	"github.com/chazu/millwright/pkg/kernel"
	"github.com/chazu/millwright/pkg/part"
	"github.com/chazu/millwright/pkg/scene"
)

// Frontend event names.
const (
	evMarker      = "scene:marker"
	evMarkerHide  = "scene:marker-hide"
	evMarkerClear = "scene:markers-clear"
	evPartStyle   = "scene:part-style"
	evRotation    = "scene:rotation"
	evPath        = "scene:path"
	evPathClear   = "scene:path-clear"
	evProxyCreate = "proxy:create"
	evProxyUpdate = "proxy:update"
	evProxyMove   = "proxy:move"
	evProxyRotate = "proxy:rotate"
	evProxyDelete = "proxy:destroy"
	evProgress    = "playback:progress"
	evReadout     = "playback:readout"
	evNotice      = "notice"
)

// emitFunc publishes one event to the frontend.
type emitFunc func(name string, data ...any)

// eventScene forwards every scene call to the browser as a runtime event.
// It keeps a Recorder alongside so picks without pre-resolved hits can be
// answered from the registered part boxes.
type eventScene struct {
	*scene.Recorder
	emit emitFunc
}

var _ scene.Scene = (*eventScene)(nil)

func newEventScene(emit emitFunc) *eventScene {
	return &eventScene{Recorder: scene.NewRecorder(), emit: emit}
}

func (s *eventScene) ShowMarker(m scene.Marker) {
	s.Recorder.ShowMarker(m)
	s.emit(evMarker, m)
}

func (s *eventScene) HideMarker(layer scene.Layer, id string) {
	s.Recorder.HideMarker(layer, id)
	s.emit(evMarkerHide, layer, id)
}

func (s *eventScene) ClearMarkers(layer scene.Layer) {
	s.Recorder.ClearMarkers(layer)
	s.emit(evMarkerClear, layer)
}

func (s *eventScene) SetPartStyle(id part.ID, st scene.PartStyle) {
	s.Recorder.SetPartStyle(id, st)
	s.emit(evPartStyle, id, st)
}

func (s *eventScene) CreateProxy(id string, mesh kernel.Mesh) (scene.Proxy, error) {
	p, err := s.Recorder.CreateProxy(id, mesh)
	if err != nil {
		return nil, err
	}
	s.emit(evProxyCreate, id, toMeshData(&mesh, mesh.Color))
	return &eventProxy{Proxy: p, id: id, emit: s.emit}, nil
}

func (s *eventScene) SetGroupRotation(angle float64) {
	s.Recorder.SetGroupRotation(angle)
	s.emit(evRotation, angle)
}

func (s *eventScene) AppendPath(from, to geom.Vec3, rapid bool) {
	s.Recorder.AppendPath(from, to, rapid)
	s.emit(evPath, scene.Segment{From: from, To: to, Rapid: rapid})
}

func (s *eventScene) ClearPath() {
	s.Recorder.ClearPath()
	s.emit(evPathClear)
}

func (s *eventScene) SetProgress(v float64) {
	s.Recorder.SetProgress(v)
	s.emit(evProgress, v)
}

func (s *eventScene) SetReadout(r scene.Readout) {
	s.Recorder.SetReadout(r)
	s.emit(evReadout, r)
}

func (s *eventScene) Notify(n scene.Notice) {
	s.Recorder.Notify(n)
	s.emit(evNotice, n)
}

// eventProxy mirrors proxy mutations to the frontend.
type eventProxy struct {
	scene.Proxy
	id   string
	emit emitFunc
}

func (p *eventProxy) Update(patch kernel.Mesh) {
	p.Proxy.Update(patch)
	p.emit(evProxyUpdate, p.id, toMeshData(&patch, patch.Color))
}

func (p *eventProxy) Move(pos geom.Vec3) {
	p.Proxy.Move(pos)
	p.emit(evProxyMove, p.id, pos)
}

func (p *eventProxy) Rotate(angle float64) {
	p.Proxy.Rotate(angle)
	p.emit(evProxyRotate, p.id, angle)
}

func (p *eventProxy) Destroy() {
	p.Proxy.Destroy()
	p.emit(evProxyDelete, p.id)
}

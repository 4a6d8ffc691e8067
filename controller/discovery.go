/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ableton-link/link/ioctx"
	"github.com/ableton-link/link/measurement"
	"github.com/ableton-link/link/peer"
	"github.com/ableton-link/link/timeline"
	"github.com/ableton-link/link/transport"
	"github.com/ableton-link/link/wire"
)

// rescanInterval is how often the interface set is re-scanned for
// gateways to create or destroy (spec §4.3).
const rescanInterval = 5 * time.Second

// retransmitInterval is how often an in-flight measurement's timeout
// is checked, derived from the protocol's own retransmit interval.
var retransmitInterval = time.Duration(measurement.RetransmitIntervalMicros) * time.Microsecond

// peerExpirySweepInterval is how often the registry is swept for
// peers whose TTL+1s deadline has lapsed without a refresh (spec
// §4.3). At 1s it is well under the 5s ttl, so a silent peer is
// forgotten within one second of its deadline passing.
const peerExpirySweepInterval = 1 * time.Second

// audioDrainInterval is how often the reactor drains the RT commit
// mailbox an audio thread may have posted to (spec §4.9/§5: the IO
// thread "consumes [it] on its own schedule"). Short enough that a
// commit from a ~10ms audio buffer callback is picked up promptly.
const audioDrainInterval = 5 * time.Millisecond

// Discovery owns the IO reactor and every socket: the gateway set, the
// heartbeat cadence, inbound message dispatch, and the measurement
// sessions this node has in flight against newly-seen session
// founders. Every method runs on the reactor goroutine except Start
// and Stop.
type Discovery struct {
	c       *Controller
	reactor *ioctx.Reactor
	owner   *ioctx.Owner

	gateways    map[string]*gatewayState
	measures    map[wire.NodeID]*measureEntry
	remeasures  map[wire.NodeID]*ioctx.Timer
	responder   measurement.Responder
	expirySweep *ioctx.Timer
	audioDrain  *ioctx.Timer

	groupID uint16
}

type gatewayState struct {
	addr      transport.InterfaceAddr
	gw        *transport.Gateway
	heartbeat *ioctx.Timer
}

type measureEntry struct {
	session  *measurement.Session
	endpoint net.UDPAddr
	timer    *ioctx.Timer
}

// Start brings the Controller onto the network: it opens a Reactor,
// scans local interfaces for gateways, and begins the heartbeat and
// interface-rescan cadence. The returned Discovery's Stop tears
// everything back down.
func (c *Controller) Start() (*Discovery, error) {
	d := &Discovery{
		c:          c,
		reactor:    ioctx.New(256),
		owner:      ioctx.NewOwner(),
		gateways:   make(map[string]*gatewayState),
		measures:   make(map[wire.NodeID]*measureEntry),
		remeasures: make(map[wire.NodeID]*ioctx.Timer),
	}
	d.responder = measurement.Responder{Ident: c.snapshotNodeID()}
	d.reactor.OnException(func(err error) {
		if se, ok := err.(*ioctx.SendError); ok {
			log.Warnf("controller: repairing gateway on %s after send error: %v", se.Addr, se.Err)
			d.repairGateway(se.Addr)
			return
		}
		log.Errorf("controller: unhandled discovery error: %v", err)
	})
	go d.reactor.Run()

	c.mu.Lock()
	c.broadcast = d.broadcastAlive
	c.mu.Unlock()

	d.reactor.Post(func() { d.rescan() })
	d.scheduleRescan()
	d.expirySweep = d.reactor.NewTimer()
	d.scheduleExpirySweep()
	d.audioDrain = d.reactor.NewTimer()
	d.scheduleAudioDrain()
	return d, nil
}

// Stop tears down every gateway and stops the reactor. The Controller
// itself keeps its current identity and timeline.
func (d *Discovery) Stop() {
	d.owner.Close()
	done := make(chan struct{})
	d.reactor.Post(func() {
		for key := range d.gateways {
			d.destroyGatewayLocked(key)
		}
		close(done)
	})
	<-done
	d.reactor.Stop()

	d.c.mu.Lock()
	d.c.broadcast = nil
	d.c.mu.Unlock()
}

func (c *Controller) snapshotNodeID() wire.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.node.NodeID
}

func (d *Discovery) scheduleRescan() {
	timer := d.reactor.NewTimer()
	var tick func(error)
	tick = func(error) {
		if !d.owner.Alive() {
			return
		}
		d.rescan()
		timer.ExpiresAfter(rescanInterval, tick)
	}
	timer.ExpiresAfter(rescanInterval, tick)
}

// scheduleExpirySweep periodically forgets peers whose TTL+1s deadline
// has passed without a refresh (spec §4.3).
func (d *Discovery) scheduleExpirySweep() {
	var tick func(error)
	tick = func(error) {
		if !d.owner.Alive() {
			return
		}
		now := int64(d.c.clk.Now())
		if d.c.peers.ExpireBefore(now) {
			d.c.notePeerChange()
		}
		d.expirySweep.ExpiresAfter(peerExpirySweepInterval, tick)
	}
	d.expirySweep.ExpiresAfter(peerExpirySweepInterval, tick)
}

// scheduleAudioDrain periodically applies any session state an audio
// thread posted via CommitAudioSessionState, moving it from the
// lock-free mailbox into the authoritative NodeState the same way any
// other commit is applied (spec §4.9).
func (d *Discovery) scheduleAudioDrain() {
	var tick func(error)
	tick = func(error) {
		if !d.owner.Alive() {
			return
		}
		d.c.DrainAudioCommit()
		d.audioDrain.ExpiresAfter(audioDrainInterval, tick)
	}
	d.audioDrain.ExpiresAfter(audioDrainInterval, tick)
}

// scheduleRemeasure arranges to re-launch a measurement against
// founder's session after delay, cancelling any remeasurement already
// pending for it (spec §4.6: both a post-switch settle-in check and a
// retry of a session that just failed to measure use this same path).
func (d *Discovery) scheduleRemeasure(founder wire.NodeID, delay time.Duration) {
	if existing, ok := d.remeasures[founder]; ok {
		existing.Cancel()
	}
	timer := d.reactor.NewTimer()
	d.remeasures[founder] = timer
	timer.ExpiresAfter(delay, func(err error) {
		if err != nil || !d.owner.Alive() {
			return
		}
		delete(d.remeasures, founder)
		endpoint, ok := d.endpointFor(founder)
		if !ok {
			return
		}
		d.launchMeasurement(founder, endpoint)
	})
}

// endpointFor looks up the measurement endpoint the founder of sid
// last advertised, preferring the founder's own entry if present and
// otherwise falling back to any other known member of that session
// (spec §4.6: "the first known member" when the founder itself isn't
// visible).
func (d *Discovery) endpointFor(sid wire.NodeID) (net.UDPAddr, bool) {
	for _, p := range d.c.peers.SessionPeers(sid) {
		if p.MeasureIP == ([4]byte{}) {
			continue
		}
		if p.State.NodeID == sid {
			return net.UDPAddr{IP: net.IP(p.MeasureIP[:]), Port: int(p.MeasurePort)}, true
		}
	}
	for _, p := range d.c.peers.SessionPeers(sid) {
		if p.MeasureIP != ([4]byte{}) {
			return net.UDPAddr{IP: net.IP(p.MeasureIP[:]), Port: int(p.MeasurePort)}, true
		}
	}
	return net.UDPAddr{}, false
}

// rescan diffs the live interface set against the gateway set, opening
// gateways for interfaces that appeared and closing ones for
// interfaces that vanished. Runs on the reactor.
func (d *Discovery) rescan() {
	addrs, err := transport.ScanInterfaces()
	if err != nil {
		log.Warnf("controller: scanning interfaces: %v", err)
		return
	}
	seen := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		seen[a.Key()] = true
		if _, ok := d.gateways[a.Key()]; ok {
			continue
		}
		if err := d.createGateway(a); err != nil {
			log.Warnf("controller: opening gateway on %s: %v", a.Key(), err)
		}
	}
	for key := range d.gateways {
		if !seen[key] {
			d.destroyGatewayLocked(key)
		}
	}
}

func (d *Discovery) createGateway(addr transport.InterfaceAddr) error {
	gw, err := transport.NewGateway(addr.Iface, addr.Addr)
	if err != nil {
		return err
	}
	gs := &gatewayState{addr: addr, gw: gw}
	d.gateways[addr.Key()] = gs

	go d.readLoop(gs, true)
	go d.readLoop(gs, false)

	gs.heartbeat = d.reactor.NewTimer()
	d.scheduleHeartbeat(gs)
	d.sendAlive(gs)
	return nil
}

func (d *Discovery) destroyGatewayLocked(key string) {
	gs, ok := d.gateways[key]
	if !ok {
		return
	}
	if gs.heartbeat != nil {
		gs.heartbeat.Cancel()
	}
	gs.gw.Close()
	delete(d.gateways, key)
	if d.c.peers.GatewayClosed(peer.Endpoint(key)) {
		d.c.notePeerChange()
	}
}

// repairGateway recreates the gateway bound to addr after a send
// failure, the Go analogue of the teacher's UdpSendException recovery
// path (spec §4.10).
func (d *Discovery) repairGateway(addr string) {
	d.reactor.Post(func() {
		for key, gs := range d.gateways {
			if gs.gw.LocalAddr.String() != addr {
				continue
			}
			a := gs.addr
			d.destroyGatewayLocked(key)
			if err := d.createGateway(a); err != nil {
				log.Warnf("controller: repairing gateway on %s: %v", addr, err)
			}
			return
		}
	})
}

func (d *Discovery) scheduleHeartbeat(gs *gatewayState) {
	interval := time.Duration(transport.HeartbeatIntervalMillis(int(transport.MessageTTL))) * time.Millisecond
	var tick func(error)
	tick = func(error) {
		if !d.owner.Alive() {
			return
		}
		if _, ok := d.gateways[gs.addr.Key()]; !ok {
			return
		}
		d.sendAlive(gs)
		gs.heartbeat.ExpiresAfter(interval, tick)
	}
	gs.heartbeat.ExpiresAfter(interval, tick)
}

func (d *Discovery) sendAlive(gs *gatewayState) {
	msg := d.aliveMessage(gs)
	if err := gs.gw.SendMulticast(msg.Encode()); err != nil {
		log.Warnf("controller: sending alive on %s: %v", gs.addr.Key(), err)
	}
}

func (d *Discovery) aliveMessage(gs *gatewayState) wire.Message {
	d.c.mu.Lock()
	node := d.c.node
	d.c.mu.Unlock()

	ip, port := gs.gw.MeasurementEndpoint()
	payload := wire.Payload{}.
		Add(wire.KeyTimeline, wire.EncodeTimeline(int64(node.Timeline.Tempo), int64(node.Timeline.BeatOrigin), node.Timeline.TimeOrigin)).
		Add(wire.KeySessionMembership, wire.EncodeSessionMembership(node.SessionID)).
		Add(wire.KeyMeasurementEndpointV4, wire.EncodeMeasurementEndpointV4(ip, port)).
		Add(wire.KeyStartStopState, wire.EncodeStartStopState(node.StartStop.IsPlaying, node.StartStop.Timestamp))
	return wire.Message{
		Header:  wire.Header{Type: wire.Alive, TTL: transport.MessageTTL, GroupID: d.groupID, Ident: node.NodeID},
		Payload: payload,
	}
}

// broadcastAlive is wired in as Controller.broadcast: it re-sends this
// node's Alive on every gateway immediately after a state change that
// the rest of the session should learn about promptly, instead of
// waiting for the next heartbeat tick. The sends themselves fan out
// across gateways concurrently: each interface's multicast write is
// independent, so there is no reason to let a slow one hold up the
// rest.
func (d *Discovery) broadcastAlive() {
	d.reactor.Post(func() {
		var g errgroup.Group
		for _, gs := range d.gateways {
			gs := gs
			g.Go(func() error {
				d.sendAlive(gs)
				return nil
			})
		}
		_ = g.Wait()
	})
}

func (d *Discovery) readLoop(gs *gatewayState, multicast bool) {
	buf := make([]byte, wire.MaxDatagramSize)
	for {
		var n int
		var src net.Addr
		var err error
		if multicast {
			n, src, err = gs.gw.ReceiveMulticast(buf)
		} else {
			n, src, err = gs.gw.ReceiveUnicast(buf)
		}
		if err != nil {
			return // socket closed, gateway torn down
		}
		data := append([]byte(nil), buf[:n]...)
		d.reactor.PostErr(func() error { return d.dispatch(gs, data, src) })
	}
}

func (d *Discovery) dispatch(gs *gatewayState, data []byte, src net.Addr) error {
	if !wire.ProbeTag(data) {
		return nil
	}
	msg, err := wire.DecodeMessage(data)
	if err != nil {
		return err
	}
	if msg.Header.Ident == d.c.snapshotNodeID() || msg.Header.GroupID != d.groupID {
		return nil
	}
	switch msg.Header.Type {
	case wire.Alive, wire.Response:
		return d.handleAlive(gs, msg, src)
	case wire.ByeBye:
		d.handleByeBye(msg)
		return nil
	case wire.Ping:
		return d.handlePing(gs, msg, src)
	case wire.Pong:
		return d.handlePong(msg)
	}
	return nil
}

func (d *Discovery) handleAlive(gs *gatewayState, msg wire.Message, src net.Addr) error {
	sessionRaw, ok := msg.Payload.Get(wire.KeySessionMembership)
	if !ok {
		return nil
	}
	sid, err := wire.DecodeSessionMembership(sessionRaw)
	if err != nil {
		return err
	}
	tlRaw, ok := msg.Payload.Get(wire.KeyTimeline)
	if !ok {
		return nil
	}
	tempo, beatOrigin, timeOrigin, err := wire.DecodeTimeline(tlRaw)
	if err != nil {
		return err
	}
	tl := timeline.Timeline{Tempo: timeline.Tempo(tempo), BeatOrigin: timeline.Beats(beatOrigin), TimeOrigin: timeOrigin}

	var startStop timeline.StartStopState
	if ssRaw, ok := msg.Payload.Get(wire.KeyStartStopState); ok {
		if playing, ts, err := wire.DecodeStartStopState(ssRaw); err == nil {
			startStop = timeline.StartStopState{IsPlaying: playing, Timestamp: ts}
		}
	}

	var ip [4]byte
	var port uint16
	if epRaw, ok := msg.Payload.Get(wire.KeyMeasurementEndpointV4); ok {
		ip, port, _ = wire.DecodeMeasurementEndpointV4(epRaw)
	}

	now := int64(d.c.clk.Now())
	expiresAt := now + int64(msg.Header.TTL)*1_000_000 + 1_000_000

	state := peer.State{NodeID: msg.Header.Ident, SessionID: sid, Timeline: tl, StartStop: startStop}
	change := d.c.peers.SawPeer(state, peer.Endpoint(gs.addr.Key()), ip, port, expiresAt)
	if change.MembershipChanged {
		d.c.notePeerChange()
	}

	isNew := d.c.sessions.Observe(sid, tl, startStop)
	if isNew && ip != ([4]byte{}) {
		d.launchMeasurement(sid, net.UDPAddr{IP: net.IP(ip[:]), Port: int(port)})
	}

	if msg.Header.Type == wire.Alive {
		udp, ok := src.(*net.UDPAddr)
		if !ok {
			return nil
		}
		if err := gs.gw.SendUnicast(d.aliveMessage(gs).Encode(), udp); err != nil {
			return &ioctx.SendError{Addr: gs.gw.LocalAddr.String(), Err: err}
		}
	}
	return nil
}

func (d *Discovery) handleByeBye(msg wire.Message) {
	for key := range d.gateways {
		if d.c.peers.PeerLeft(msg.Header.Ident, peer.Endpoint(key)) {
			d.c.notePeerChange()
		}
	}
}

func (d *Discovery) handlePing(gs *gatewayState, msg wire.Message, src net.Addr) error {
	d.c.mu.Lock()
	sid := d.c.node.SessionID
	xform := d.c.xform
	d.c.mu.Unlock()

	now := int64(d.c.clk.Now())
	pong, err := d.responder.HandlePing(msg, sid, xform, now)
	if err != nil {
		return err
	}
	udp, ok := src.(*net.UDPAddr)
	if !ok {
		return nil
	}
	if err := gs.gw.SendUnicast(pong.Encode(), udp); err != nil {
		return &ioctx.SendError{Addr: gs.gw.LocalAddr.String(), Err: err}
	}
	return nil
}

func (d *Discovery) handlePong(msg wire.Message) error {
	entry, ok := d.measures[msg.Header.Ident]
	if !ok {
		return nil
	}
	now := int64(d.c.clk.Now())
	next, err := entry.session.HandlePong(msg, now)
	if err != nil {
		log.Debugf("controller: measurement of %s aborted: %v", msg.Header.Ident, err)
	}
	if entry.session.Done() {
		d.finishMeasurement(msg.Header.Ident)
		return nil
	}
	if next != nil {
		if sendErr := d.sendToAnyGateway(next.Encode(), &entry.endpoint); sendErr != nil {
			log.Warnf("controller: sending follow-up ping to %s: %v", entry.endpoint.String(), sendErr)
		}
	}
	return nil
}

func (d *Discovery) finishMeasurement(sessionFounder wire.NodeID) {
	entry, ok := d.measures[sessionFounder]
	if !ok {
		return
	}
	entry.timer.Cancel()
	delete(d.measures, sessionFounder)

	now := int64(d.c.clk.Now())
	result := entry.session.Result()
	d.c.fireMeasurementResult(result.Succeeded)
	if !result.Succeeded {
		dropped, retryIn := d.c.sessions.MeasurementFailed(sessionFounder)
		if dropped {
			for _, p := range d.c.peers.SessionPeers(sessionFounder) {
				d.c.peers.PeerLeft(p.State.NodeID, p.Gateway)
			}
			d.c.notePeerChange()
			return
		}
		if retryIn > 0 {
			d.scheduleRemeasure(sessionFounder, time.Duration(retryIn)*time.Microsecond)
		}
		return
	}
	switched, remeasureIn := d.c.sessions.MeasurementSucceeded(sessionFounder, result.XForm, now)
	if switched {
		newFounder := d.c.sessions.Current().ID
		d.c.adoptSession(d.c.sessions.Current(), now)
		if remeasureIn > 0 {
			d.scheduleRemeasure(newFounder, time.Duration(remeasureIn)*time.Microsecond)
		}
	}
}

func (d *Discovery) launchMeasurement(founder wire.NodeID, endpoint net.UDPAddr) {
	if _, inFlight := d.measures[founder]; inFlight {
		return
	}
	session := measurement.NewSession(d.c.snapshotNodeID(), d.groupID, founder)
	entry := &measureEntry{session: session, endpoint: endpoint, timer: d.reactor.NewTimer()}
	d.measures[founder] = entry

	now := int64(d.c.clk.Now())
	ping := session.Start(now)
	if err := d.sendToAnyGateway(ping.Encode(), &endpoint); err != nil {
		log.Warnf("controller: sending opening ping to %s: %v", endpoint.String(), err)
	}
	d.scheduleMeasurementTick(founder)
}

func (d *Discovery) scheduleMeasurementTick(founder wire.NodeID) {
	entry, ok := d.measures[founder]
	if !ok {
		return
	}
	var tick func(error)
	tick = func(error) {
		entry, ok := d.measures[founder]
		if !ok || entry.session.Done() {
			return
		}
		now := int64(d.c.clk.Now())
		if retransmit, failed := entry.session.CheckTimeout(now); retransmit != nil {
			d.sendToAnyGateway(retransmit.Encode(), &entry.endpoint)
		} else if failed {
			d.finishMeasurement(founder)
			return
		}
		entry.timer.ExpiresAfter(retransmitInterval, tick)
	}
	entry.timer.ExpiresAfter(retransmitInterval, tick)
}

func (d *Discovery) sendToAnyGateway(b []byte, addr *net.UDPAddr) error {
	var lastErr error
	for _, gs := range d.gateways {
		if err := gs.gw.SendUnicast(b, addr); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

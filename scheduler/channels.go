package scheduler

import (
	"sort"
	"sync/atomic"

	"github.com/evoliptic/ufo/buffer"
	"github.com/evoliptic/ufo/graph"
	"github.com/evoliptic/ufo/requisition"
	"github.com/evoliptic/ufo/ufoerr"
	"github.com/evoliptic/ufo/xchannel"
)

// channelSet holds one xchannel.Channel per distinct input port of every
// graph node (keyed by the node and the graph.Edge.Label feeding it), so a
// multi-input Transform or Sink gets one channel per port rather than every
// predecessor sharing a single undifferentiated stream. Several edges into
// the same port (a fan-in point, e.g. a node Expand cloned into several
// device-bound copies all feeding the same downstream port) share that
// port's one Channel; remaining tracks how many of those producers are
// still running so only the last one to exit actually calls Channel.Finish.
type channelSet struct {
	byTargetPort map[graph.NodeID]map[string]*xchannel.Channel
	outChannels  map[graph.NodeID][]*xchannel.Channel
	remaining    map[*xchannel.Channel]*atomic.Int32
}

// inputsOf returns n's input channels keyed by port label. A single-input
// node has exactly one entry, under filter.DefaultPort.
func (cs *channelSet) inputsOf(n *graph.Node) map[string]*xchannel.Channel {
	return cs.byTargetPort[n.ID()]
}

func (cs *channelSet) outputsOf(n *graph.Node) []*xchannel.Channel {
	return cs.outChannels[n.ID()]
}

// finishProducer records that one producer feeding ch has exited, and calls
// ch.Finish only when every producer Refed against it has done so. This is
// what lets several device clones of an Expand'd node share one downstream
// port without the first clone to exit poisoning the port for the others
// still running.
func (cs *channelSet) finishProducer(ch *xchannel.Channel) error {
	g := cs.remaining[ch]
	if g.Add(-1) == 0 {
		return ch.Finish()
	}
	return nil
}

// wireChannels builds one Channel per distinct (node, input port) pair and
// Refs it once per edge feeding that port, so a fan-in port only signals
// exhaustion once every one of its producers has finished.
//
// Per the design's buffer-recycling model (§4.2, §4.5), every channel's
// output queue is pre-filled at setup with QueueDepth empty buffers shaped
// to the producer's declared Requisition, so steady-state operation never
// allocates: a producer's FetchOutput/Insert and a consumer's
// FetchInput/ReleaseOutput just circulate the same fixed pool of buffers,
// which is what makes a slow consumer backpressure its producer instead of
// unbounded memory growth.
func (s *Scheduler) wireChannels() (*channelSet, error) {
	cs := &channelSet{
		byTargetPort: make(map[graph.NodeID]map[string]*xchannel.Channel),
		outChannels:  make(map[graph.NodeID][]*xchannel.Channel),
		remaining:    make(map[*xchannel.Channel]*atomic.Int32),
	}

	for _, n := range s.g.Nodes() {
		edges := s.g.InEdges(n)
		if len(edges) == 0 {
			continue
		}

		byLabel := make(map[string][]*graph.Edge)
		var labels []string
		for _, e := range edges {
			if _, ok := byLabel[e.Label]; !ok {
				labels = append(labels, e.Label)
			}
			byLabel[e.Label] = append(byLabel[e.Label], e)
		}
		sort.Strings(labels)

		ports := make(map[string]*xchannel.Channel, len(labels))
		for _, label := range labels {
			portEdges := byLabel[label]
			ch := xchannel.New(s.opts.QueueDepth)
			for range portEdges {
				ch.Ref()
			}
			count := new(atomic.Int32)
			count.Store(int32(len(portEdges)))
			cs.remaining[ch] = count

			req, err := s.outputHint(portEdges)
			if err != nil {
				return nil, err
			}
			prefill := make([]*buffer.Buffer, s.opts.QueueDepth)
			for i := range prefill {
				b, err := buffer.New(req, s.ctx)
				if err != nil {
					return nil, ufoerr.Wrap(ufoerr.DeviceAllocation, err, "wire channels: prefill")
				}
				prefill[i] = b
			}
			ch.PrefillOutput(prefill)
			ports[label] = ch
		}
		cs.byTargetPort[n.ID()] = ports
	}

	for _, n := range s.g.Nodes() {
		seen := make(map[*xchannel.Channel]bool)
		var out []*xchannel.Channel
		for _, e := range s.g.OutEdges(n) {
			ports := cs.byTargetPort[e.Target.ID()]
			if ports == nil {
				continue
			}
			ch := ports[e.Label]
			if ch == nil || seen[ch] {
				continue
			}
			seen[ch] = true
			out = append(out, ch)
		}
		cs.outChannels[n.ID()] = out
	}

	return cs, nil
}

// outputHint returns the Requisition the channel's prefilled buffers
// should start out with: the first producing edge's source filter's
// declared output shape. Sinks never appear here (they have no outgoing
// edges), so every source node is a Source or Transform and exposes a real
// Requisition.
func (s *Scheduler) outputHint(edges []*graph.Edge) (requisition.Requisition, error) {
	for _, e := range edges {
		stg, ok := s.stages[e.Source.ID()]
		if !ok {
			continue
		}
		req, err := stg.Filter().Requisition()
		if err == nil {
			return req, nil
		}
	}
	return requisition.New(1)
}

// Package dram implements the off-chip memory controller (spec §4.5): a
// per-channel bank state machine with row-buffer timing, write-drain
// watermarks, and data-bus scheduling. DRAM is the terminal memory in the
// fill-path hierarchy — packets that reach it never propagate further.
package dram

import (
	"math/bits"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/hermessim/internal/mem/packet"
	"github.com/sarchlab/hermessim/internal/simerr"
)

// Config holds the DRAM controller's timing and geometry parameters.
type Config struct {
	Channels      int
	Ranks         int
	BanksPerRank  int
	ColumnsPerRow int
	BlockSize     int

	RQSize int
	WQSize int

	WriteHighWatermark int
	WriteLowWatermark  int

	TRP  uint64
	TRCD uint64
	TCAS uint64

	DBusTurnAround uint64

	ChannelWidthBytes int
	CPUFreqMHz        uint64
	DRAMMTPS          uint64
}

// DBusReturnTime is ceil(block_size / channel_width) * ceil(cpu_freq /
// dram_mtps), the number of cycles the data bus is held for one transfer
// (spec §4.5).
func (c Config) DBusReturnTime() uint64 {
	transfers := ceilDiv(c.BlockSize, c.ChannelWidthBytes)
	cycles := ceilDivU64(c.CPUFreqMHz, c.DRAMMTPS)
	return uint64(transfers) * cycles
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

func ceilDivU64(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return (a + b - 1) / b
}

// Bank models one DRAM bank's row-buffer and scheduling state.
type Bank struct {
	OpenRow        uint64
	RowValid       bool
	CycleAvailable uint64
	Working        bool
	RowBufferHit   bool
	IsRead         bool
	IsWrite        bool
	RequestIndex   int

	RowBufferHits   uint64
	RowBufferMisses uint64
}

// Slot holds one queued DRAM request alongside its scheduling state.
type Slot struct {
	Packet    *packet.Packet
	Occupied  bool
	Scheduled bool
}

// Channel is one DRAM channel's read/write queues, banks, and data bus.
type Channel struct {
	RQ []Slot
	WQ []Slot

	WriteMode          bool
	DBusCycleAvailable uint64

	Banks [][]*Bank // [rank][bank]
}

// Stats accumulates controller-wide counters.
type Stats struct {
	RQAccess, WQAccess   uint64
	WQForwards           uint64
	RQMerges, WQMerges   uint64
	DDRPDropped          uint64
	DDRPCompleted        uint64
	BusCongestionCycles  uint64
	ModeSwitches         uint64
}

// Controller is the DRAM controller.
type Controller struct {
	config   Config
	channels []*Channel
	Stats    Stats

	// OnReturn is invoked when a (non-DDRP) request completes at DRAM.
	// The Simulator wires this to pop the packet's fill path and cascade
	// the return up through the cache hierarchy, mirroring the cache
	// package's ReturnNotify hook.
	OnReturn func(p *packet.Packet)
}

// New constructs a DRAM controller with per-channel queues and banks.
func New(config Config) *Controller {
	channels := make([]*Channel, config.Channels)
	for i := range channels {
		banks := make([][]*Bank, config.Ranks)
		for r := range banks {
			banks[r] = make([]*Bank, config.BanksPerRank)
			for b := range banks[r] {
				banks[r][b] = &Bank{RequestIndex: -1}
			}
		}
		channels[i] = &Channel{
			RQ:    make([]Slot, config.RQSize),
			WQ:    make([]Slot, config.WQSize),
			Banks: banks,
		}
	}
	return &Controller{config: config, channels: channels}
}

// Config returns the controller's parameters.
func (d *Controller) Config() Config { return d.config }

// Address decomposes a physical address into (channel, rank, bank, row,
// column), with channel occupying the lowest bits, then bank, column,
// rank, and row occupying the remainder (spec §4.5).
type Address struct {
	Channel, Rank, Bank int
	Row, Column         uint64
}

func (d *Controller) decompose(addr uint64) Address {
	a := addr / uint64(d.config.BlockSize)

	channelBits := log2(d.config.Channels)
	bankBits := log2(d.config.BanksPerRank)
	columnBits := log2(d.config.ColumnsPerRow)
	rankBits := log2(d.config.Ranks)

	channel := int(a & mask(channelBits))
	a >>= channelBits
	bank := int(a & mask(bankBits))
	a >>= bankBits
	column := a & mask(columnBits)
	a >>= columnBits
	rank := int(a & mask(rankBits))
	a >>= rankBits
	row := a

	return Address{Channel: channel, Rank: rank, Bank: bank, Row: row, Column: column}
}

func log2(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

func mask(nbits int) uint64 {
	if nbits <= 0 {
		return 0
	}
	return (uint64(1) << nbits) - 1
}

func (d *Controller) bankFor(a Address) *Bank {
	return d.channels[a.Channel].Banks[a.Rank][a.Bank]
}

// AddRQ admits a read request, implementing the DRAM RQ admission and
// DDRP-merge rules of spec §4.5.
func (d *Controller) AddRQ(p *packet.Packet, now uint64) (admitted bool, err error) {
	a := d.decompose(p.PAddr)
	ch := d.channels[a.Channel]
	d.Stats.RQAccess++

	for i := range ch.WQ {
		s := &ch.WQ[i]
		if s.Occupied && packet.SameBlock(s.Packet, p) {
			d.Stats.WQForwards++
			if _, err := p.FillPath.Pop(); err != nil {
				return false, err
			}
			if d.OnReturn != nil {
				d.OnReturn(p)
			}
			return true, nil
		}
	}

	for i := range ch.RQ {
		s := &ch.RQ[i]
		if !s.Occupied || !packet.SameBlock(s.Packet, p) {
			continue
		}

		existing := s.Packet
		switch {
		case existing.IsDDRP && !p.IsDDRP:
			p.EventCycle = existing.EventCycle
			p.CycleEnqueued = existing.CycleEnqueued
			s.Packet = p
			d.Stats.RQMerges++
			return true, nil
		case p.IsDDRP && !existing.IsDDRP:
			d.Stats.DDRPDropped++
			return true, nil
		case p.IsDDRP && existing.IsDDRP:
			return true, nil
		default:
			return false, simerr.New("DRAM RQ overlay of two demand requests", p.CPU, p.BlockAddr, p.Type.String(), p.FillLevel.String())
		}
	}

	for i := range ch.RQ {
		if !ch.RQ[i].Occupied {
			ch.RQ[i] = Slot{Packet: p, Occupied: true}
			p.CycleEnqueued = now
			if p.EventCycle < now {
				p.EventCycle = now
			}
			return true, nil
		}
	}

	if p.IsDDRP {
		d.Stats.DDRPDropped++
		return false, nil
	}
	return false, nil
}

// AddWQ admits a writeback. Duplicate writes to the same block coalesce
// silently (the newer data wins).
func (d *Controller) AddWQ(p *packet.Packet, now uint64) (admitted bool, err error) {
	a := d.decompose(p.PAddr)
	ch := d.channels[a.Channel]
	d.Stats.WQAccess++

	for i := range ch.WQ {
		s := &ch.WQ[i]
		if s.Occupied && packet.SameBlock(s.Packet, p) {
			s.Packet = p
			d.Stats.WQMerges++
			return true, nil
		}
	}

	for i := range ch.WQ {
		if !ch.WQ[i].Occupied {
			ch.WQ[i] = Slot{Packet: p, Occupied: true}
			p.CycleEnqueued = now
			return true, nil
		}
	}
	return false, nil
}

// Occupancy reports how many requests are queued: queueType 1 = RQ, 2 = WQ.
func (d *Controller) Occupancy(queueType int, addr uint64) int {
	a := d.decompose(addr)
	ch := d.channels[a.Channel]
	n := 0
	slots := ch.RQ
	if queueType == 2 {
		slots = ch.WQ
	}
	for _, s := range slots {
		if s.Occupied {
			n++
		}
	}
	return n
}

// Size returns the fixed capacity of the named queue for addr's channel.
func (d *Controller) Size(queueType int, addr uint64) int {
	if queueType == 2 {
		return d.config.WQSize
	}
	return d.config.RQSize
}

// Operate advances every channel by one cycle: watermark mode switching,
// bank scheduling, and data-bus-gated completion (spec §4.5).
func (d *Controller) Operate(now uint64) error {
	for _, ch := range d.channels {
		d.updateWriteMode(ch, now)
		if err := d.schedule(ch, now); err != nil {
			return err
		}
		d.process(ch, now)
	}
	return nil
}

func (d *Controller) updateWriteMode(ch *Channel, now uint64) {
	occWQ := occupied(ch.WQ)
	occRQ := occupied(ch.RQ)

	if !ch.WriteMode && (occWQ >= d.config.WriteHighWatermark ||
		(occRQ == 0 && occWQ > 0)) {
		ch.WriteMode = true
		ch.DBusCycleAvailable += d.config.DBusTurnAround
		d.Stats.ModeSwitches++
		logrus.WithField("queue", "WQ").Debug("dram write-mode entered")
	} else if ch.WriteMode {
		if occWQ == 0 || (occRQ > 0 && occWQ < d.config.WriteLowWatermark) {
			ch.WriteMode = false
			ch.DBusCycleAvailable += d.config.DBusTurnAround
			d.Stats.ModeSwitches++
			logrus.WithField("queue", "RQ").Debug("dram write-mode exited")
		}
	}
}

func occupied(slots []Slot) int {
	n := 0
	for _, s := range slots {
		if s.Occupied {
			n++
		}
	}
	return n
}

func (d *Controller) queueRow(slots []Slot, idx int) uint64 {
	return d.decompose(slots[idx].Packet.PAddr).Row
}

// schedule picks the oldest unscheduled request whose bank is idle, for
// the queue selected by the channel's current write mode, preferring a
// row-buffer hit and relaxing to any idle bank if no row match exists.
func (d *Controller) schedule(ch *Channel, now uint64) error {
	slots := ch.RQ
	if ch.WriteMode {
		slots = ch.WQ
	}

	pick, pickHit := -1, false
	for i := range slots {
		s := &slots[i]
		if !s.Occupied || s.Scheduled {
			continue
		}
		a := d.decompose(s.Packet.PAddr)
		bank := d.bankFor(a)
		if bank.Working || bank.CycleAvailable > now {
			continue
		}
		hit := bank.RowValid && bank.OpenRow == a.Row
		if pick == -1 || (hit && !pickHit) ||
			(hit == pickHit && s.Packet.CycleEnqueued < slots[pick].Packet.CycleEnqueued) {
			pick, pickHit = i, hit
		}
	}
	if pick == -1 {
		return nil
	}

	a := d.decompose(slots[pick].Packet.PAddr)
	bank := d.bankFor(a)

	rowHit := bank.RowValid && bank.OpenRow == a.Row
	var latency uint64
	if rowHit {
		latency = d.config.TCAS
		bank.RowBufferHits++
	} else {
		latency = d.config.TRP + d.config.TRCD + d.config.TCAS
		bank.RowBufferMisses++
	}

	bank.Working = true
	bank.CycleAvailable = now + latency
	bank.RowBufferHit = rowHit
	bank.OpenRow = a.Row
	bank.RowValid = true
	bank.RequestIndex = pick
	bank.IsRead = !ch.WriteMode
	bank.IsWrite = ch.WriteMode

	slots[pick].Scheduled = true
	return nil
}

// process completes banks whose access has finished, gated by data-bus
// availability, and returns data upstream (or drops a DDRP packet).
func (d *Controller) process(ch *Channel, now uint64) {
	busReturnTime := d.config.DBusReturnTime()

	for _, rankBanks := range ch.Banks {
		for _, bank := range rankBanks {
			if !bank.Working || bank.CycleAvailable > now {
				continue
			}

			if ch.DBusCycleAvailable > now {
				bank.CycleAvailable = ch.DBusCycleAvailable
				d.Stats.BusCongestionCycles++
				logrus.WithField("dbus_available", ch.DBusCycleAvailable).Debug("dram data bus busy, bank completion delayed")
				continue
			}

			ch.DBusCycleAvailable = now + busReturnTime

			slots := ch.RQ
			if bank.IsWrite {
				slots = ch.WQ
			}
			idx := bank.RequestIndex
			if idx >= 0 && idx < len(slots) && slots[idx].Occupied {
				p := slots[idx].Packet
				if p.IsDDRP {
					d.Stats.DDRPCompleted++
				} else {
					if _, err := p.FillPath.Pop(); err == nil && d.OnReturn != nil {
						d.OnReturn(p)
					}
				}
				slots[idx] = Slot{}
			}

			bank.Working = false
			bank.RequestIndex = -1
			bank.RowBufferHit = false
		}
	}
}

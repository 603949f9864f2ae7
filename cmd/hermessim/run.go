package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/hermessim/config"
	"github.com/sarchlab/hermessim/internal/core"
	"github.com/sarchlab/hermessim/internal/mem/cache"
	"github.com/sarchlab/hermessim/internal/mem/packet"
	"github.com/sarchlab/hermessim/internal/sim"
	"github.com/sarchlab/hermessim/trace"
)

var (
	configPath             string
	warmupInstructions     uint64
	simulationInstructions uint64
	heartbeatEvery         uint64
	routeName              string
	robWindow              int
	legacyTrace            bool
)

var runCmd = &cobra.Command{
	Use:   "run [trace-per-cpu ...]",
	Short: "Run the simulator against one trace file per CPU",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSimulation(args); err != nil {
			logrus.WithError(err).Fatal("simulation aborted")
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Cache-hierarchy JSON config (defaults to the built-in L1D/L2C/LLC/DRAM hierarchy)")
	runCmd.Flags().Uint64Var(&warmupInstructions, "warmup_instructions", 0, "Instructions to run before measurement starts")
	runCmd.Flags().Uint64Var(&simulationInstructions, "simulation_instructions", 1000000, "Instructions to measure after warmup")
	runCmd.Flags().Uint64Var(&heartbeatEvery, "heartbeat", 1000000, "Instructions between heartbeat lines")
	runCmd.Flags().StringVar(&routeName, "route", "sdc_l2c_dram", "L1D-miss route: sdc_l2c_dram, l1d_llc, or dram_ddrp_request")
	runCmd.Flags().IntVar(&robWindow, "rob-window", 128, "Maximum in-flight instructions per CPU")
	runCmd.Flags().BoolVar(&legacyTrace, "legacy-trace", false, "Trace files have no irregular-access-ranges header")
}

func parseRoute(name string) (packet.Route, error) {
	switch name {
	case "sdc_l2c_dram":
		return packet.RouteSDCL2CDRAM, nil
	case "l1d_llc":
		return packet.RouteL1DLLC, nil
	case "dram_ddrp_request":
		return packet.RouteDRAMDDRPRequest, nil
	default:
		return packet.RouteInvalid, fmt.Errorf("unknown route %q", name)
	}
}

func loadCacheConfig(cfg *config.Config, name string) (cache.Config, error) {
	cc, ok := cfg.Cache(name)
	if !ok {
		return cache.Config{}, fmt.Errorf("config missing required cache entry %q", name)
	}
	return cc.ToCacheConfig()
}

func runSimulation(tracePaths []string) error {
	cfg := config.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	route, err := parseRoute(routeName)
	if err != nil {
		return err
	}

	l1dBase, err := loadCacheConfig(cfg, "L1D")
	if err != nil {
		return err
	}
	l2cBase, err := loadCacheConfig(cfg, "L2C")
	if err != nil {
		return err
	}
	llcCfg, err := loadCacheConfig(cfg, "LLC")
	if err != nil {
		return err
	}

	numCPUs := len(tracePaths)
	l1dConfigs := make([]cache.Config, numCPUs)
	l2cConfigs := make([]cache.Config, numCPUs)
	for i := 0; i < numCPUs; i++ {
		l1dConfigs[i] = l1dBase
		l2cConfigs[i] = l2cBase
	}

	s := sim.New(llcCfg, cfg.DRAM.ToDRAMConfig(), l1dConfigs, l2cConfigs,
		cfg.Predictor.DDRPRequestLatency, cfg.Predictor.Threshold, heartbeatEvery)
	s.WarmupInstructions = warmupInstructions
	s.SimulationInstructions = simulationInstructions
	s.Heartbeat = logHeartbeat

	readers := make([]*trace.Reader, numCPUs)
	for i, path := range tracePaths {
		r, err := trace.Open(path, legacyTrace)
		if err != nil {
			return fmt.Errorf("opening trace for cpu %d: %w", i, err)
		}
		defer r.Close()
		readers[i] = r
	}

	blockSize := l1dConfigs[0].BlockSize

	// pending holds, per CPU, one decoded instruction that couldn't be
	// issued yet (L1D's RQ was full) so it isn't silently dropped or
	// double-fetched on retry.
	pending := make([]*trace.Instruction, numCPUs)
	pendingID := make([]uint64, numCPUs)
	var nextInstrID uint64

	target := warmupInstructions + simulationInstructions
	for s.TotalInstructions() < target {
		for i, cpu := range s.CPUs {
			for cpu.Core.InFlight() < robWindow {
				if pending[i] == nil {
					instr, err := readers[i].Next()
					if err != nil {
						return fmt.Errorf("reading trace for cpu %d: %w", i, err)
					}
					nextInstrID++
					pending[i] = &instr
					pendingID[i] = nextInstrID
				}

				if fetchOne(cpu.Core, *pending[i], route, s.Now, blockSize, pendingID[i]) {
					pending[i] = nil
				} else {
					break
				}
			}
		}

		if err := s.Tick(); err != nil {
			return err
		}
	}

	logrus.Infof("simulation complete: %d instructions, cumulative IPC per CPU follows", s.TotalInstructions())
	for i, cpu := range s.CPUs {
		logrus.Infof("cpu=%d instructions=%d cycles=%d ipc=%.4f",
			i, cpu.Core.Instructions, cpu.Core.Cycles, cpu.Core.IPC())
	}
	return nil
}

func logHeartbeat(s *sim.Simulator) {
	for i, cpu := range s.CPUs {
		logrus.WithFields(logrus.Fields{
			"cpu":                i,
			"instructions":       cpu.Core.Instructions,
			"cycles":             cpu.Core.Cycles,
			"heartbeat_ipc":      cpu.Core.IPC(),
			"cumulative_ipc":     cpu.Core.IPC(),
			"wall_clock_minutes": s.WallClockMinutes(),
		}).Info("heartbeat")
	}
}

// fetchOne decodes one trace instruction into the core's ROB/LQ/SQ. Only
// the first source/destination memory operand is modeled (spec §1's
// Non-goals exclude functional execution, so a multi-operand memory
// instruction is represented by its primary address). Returns false if
// the load's packet could not be enqueued (L1D's RQ is currently full),
// in which case the caller retries the same instr next cycle without
// re-decoding it.
func fetchOne(c *core.Core, instr trace.Instruction, route packet.Route, now uint64, blockSize int, instrID uint64) bool {
	switch {
	case instr.SourceMemory[0] != 0:
		if c.L1D.RQ.Full() {
			return false
		}
		idx := c.AllocateLoad(instrID, instr.SourceMemory[0], blockSize)
		if c.TryForward(idx) {
			return true
		}
		blockAddr := instr.SourceMemory[0] &^ uint64(blockSize-1)
		return c.IssueLoad(idx, blockAddr, route, now)
	case instr.DestinationMemory[0] != 0:
		idx := c.AllocateStore(instrID, instr.DestinationMemory[0])
		c.CompleteStore(idx)
		return true
	default:
		c.AllocateNop(instrID)
		return true
	}
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/utils/clock"

	"github.com/arloliu/go-msbridge/controller"
	"github.com/arloliu/go-msbridge/simulator"
)

const (
	realtimeFlag          = "realtime"
	topNFlag              = "top-n"
	isolationWidthFlag    = "isolation-width"
	collisionEnergyFlag   = "collision-energy"
	mzTolerancePPMFlag    = "mz-tolerance-ppm"
	rtToleranceFlag       = "rt-tolerance"
	minIntensityFlag      = "min-intensity"
	runningNumberBaseFlag = "running-number-base"
)

func replayCmd() *cobra.Command {
	def := controller.DefaultTopNConfig()

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run a Top-N acquisition against a replayed recording.",
		Long: `replay loads the recording, drives it with a Top-N data-dependent controller
and prints a summary of the acquisition. By default the run uses virtual time
and finishes as fast as possible; --realtime replays with wall-clock delays.`,
		RunE: runReplay,
	}

	flags := cmd.Flags()
	flags.Bool(realtimeFlag, false, "Replay with wall-clock delays instead of virtual time.")
	flags.Int(topNFlag, def.N, "Number of precursors fragmented after each MS1 scan.")
	flags.Float64(isolationWidthFlag, def.IsolationWidth, "Isolation width of fragmentation scans, in Dalton.")
	flags.Float64(collisionEnergyFlag, def.CollisionEnergy, "Collision energy of fragmentation scans.")
	flags.Float64(mzTolerancePPMFlag, def.MZTolerancePPM, "m/z width of dynamic exclusion windows, in ppm.")
	flags.Duration(rtToleranceFlag, def.RTTolerance, "How long a fragmented precursor stays excluded.")
	flags.Float64(minIntensityFlag, def.MinMS1Intensity, "Lowest MS1 intensity considered for fragmentation.")
	flags.Int64(runningNumberBaseFlag, controller.DefaultRunningNumberBase, "Running number of the first custom scan.")

	return cmd
}

func loadTopNConfig(v *viper.Viper) controller.TopNConfig {
	cfg := controller.DefaultTopNConfig()
	cfg.N = v.GetInt(topNFlag)
	cfg.IsolationWidth = v.GetFloat64(isolationWidthFlag)
	cfg.CollisionEnergy = v.GetFloat64(collisionEnergyFlag)
	cfg.MZTolerancePPM = v.GetFloat64(mzTolerancePPMFlag)
	cfg.RTTolerance = v.GetDuration(rtToleranceFlag)
	cfg.MinMS1Intensity = v.GetFloat64(minIntensityFlag)

	return cfg
}

func runReplay(cmd *cobra.Command, _ []string) (err error) {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}

	common, err := loadCommonConfig(v)
	if err != nil {
		return err
	}

	l, flush := common.newLogger()
	defer func() {
		if ferr := flush(); ferr != nil && err == nil {
			err = ferr
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	realtime := v.GetBool(realtimeFlag)

	var (
		opts    []simulator.Option
		virtual *simulator.VirtualScheduler
	)
	if realtime {
		opts = append(opts, simulator.WithClock(clock.RealClock{}))
	} else {
		virtual = simulator.NewVirtualScheduler(clock.RealClock{}.Now())
		opts = append(opts, simulator.WithScheduler(virtual))
	}

	sim, err := common.openSimulator(ctx, l, opts...)
	if err != nil {
		return err
	}
	defer sim.Close()

	bridge, err := controller.NewBridge(sim,
		controller.WithBridgeLogger(l),
		controller.WithRunningNumberBase(v.GetInt64(runningNumberBaseFlag)),
	)
	if err != nil {
		return err
	}
	defer bridge.Close()
	bridge.DumpPossibleParameters()

	topN, err := controller.NewTopN(bridge, loadTopNConfig(v))
	if err != nil {
		return err
	}

	if realtime {
		err = topN.Run(ctx)
	} else {
		err = runVirtual(ctx, topN, virtual)
	}
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), topN, sim)

	return nil
}

// runVirtual drives the acquisition by firing deliveries until the controller is done.
func runVirtual(ctx context.Context, topN *controller.TopN, sched *simulator.VirtualScheduler) error {
	if err := topN.Start(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-topN.Done():
			return topN.Err()
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		due, ok := sched.NextDue()
		if !ok {
			return errors.New("acquisition stalled with no pending delivery")
		}
		sched.Advance(due.Sub(sched.Now()))
	}
}

func printSummary(w io.Writer, topN *controller.TopN, sim *simulator.Simulator) {
	summary := topN.Summary()
	metrics := sim.Metrics()

	fmt.Fprintf(w, "ms1 scans:       %d\n", summary.MS1Scans)
	fmt.Fprintf(w, "msn scans:       %d\n", summary.MSnScans)
	fmt.Fprintf(w, "excluded peaks:  %d\n", summary.Excluded)
	fmt.Fprintf(w, "submitted:       %d\n", summary.Submitted)
	fmt.Fprintf(w, "rejected:        %d\n", summary.Rejected)
	fmt.Fprintf(w, "delivered:       %d\n", metrics.DeliveredCount.Load())

	for _, p := range topN.Precursors() {
		fmt.Fprintf(w, "precursor m/z=%.4f intensity=%g ms1=%d msn=%v\n",
			p.Precursor.MZ, p.Precursor.Intensity, p.Precursor.MS1Scan, p.MSnScans)
	}
}

// Package simulator implements acquisition.Instrument by replaying a recorded acquisition.
//
// A recording is partitioned into an MS1 queue and an MSn queue. Each accepted custom scan
// removes the head spectrum of the queue matching its scan type and delivers it after a service
// time derived from the recorded retention times, reproducing the cadence of the original run.
// Only one custom scan may be in flight; the simulator follows the Ready/Busy handshake described
// in package acquisition.
//
// Example:
//
//	sched := simulator.NewVirtualScheduler(time.Unix(0, 0))
//	sim, err := simulator.NewFromSource(ctx, spectrum.FileSource{}, "run.mzML", simulator.WithScheduler(sched))
//	if err != nil {
//	    return err
//	}
//	defer sim.Close()
//
//	sim.OnScanArrived(func(scan *acquisition.ResultScan) { ... })
//	sim.OnReadyForNext(func() { ... })
//
//	res, err := sim.SubmitCustomScan(ctx, acquisition.CustomScanRequest{ScanType: acquisition.FullScan, RunningNumber: 1})
//	sched.RunUntilIdle()
package simulator

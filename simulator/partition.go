package simulator

import (
	"github.com/arloliu/go-msbridge/acquisition"
	"github.com/arloliu/go-msbridge/internal/queue"
	"github.com/arloliu/go-msbridge/spectrum"
)

// ScanQueue holds the not yet delivered spectra of one scan type in recorded order.
//
// Spectra are only ever removed; a ScanQueue never grows after construction.
// ScanQueue is not safe for concurrent use, the simulator guards it with its own lock.
type ScanQueue struct {
	scanType acquisition.ScanType
	fifo     *queue.FIFO[spectrum.Spectrum]
}

func newScanQueue(scanType acquisition.ScanType, spectra []spectrum.Spectrum) *ScanQueue {
	return &ScanQueue{scanType: scanType, fifo: queue.NewFIFOFrom(spectra)}
}

// ScanType returns the scan type of the queued spectra.
func (q *ScanQueue) ScanType() acquisition.ScanType { return q.scanType }

// Dequeue removes and returns the head spectrum.
func (q *ScanQueue) Dequeue() (spectrum.Spectrum, bool) { return q.fifo.Dequeue() }

// Peek returns the head spectrum without removing it.
func (q *ScanQueue) Peek() (spectrum.Spectrum, bool) { return q.fifo.Peek() }

// Len returns the number of remaining spectra.
func (q *ScanQueue) Len() int { return q.fifo.Length() }

// IsEmpty reports whether every spectrum has been dequeued.
func (q *ScanQueue) IsEmpty() bool { return q.fifo.IsEmpty() }

// Spectra returns a copy of the remaining spectra, head first.
func (q *ScanQueue) Spectra() []spectrum.Spectrum { return q.fifo.Items() }

// Partition splits a recording into its MS1 and MSn queues in a single pass.
// Every spectrum ends up in exactly one queue and relative order is preserved within each.
func Partition(spectra []spectrum.Spectrum) (ms1 *ScanQueue, msn *ScanQueue) {
	full := make([]spectrum.Spectrum, 0, len(spectra))
	frag := make([]spectrum.Spectrum, 0, len(spectra))

	for _, s := range spectra {
		if acquisition.ScanTypeForLevel(s.MSLevel) == acquisition.FullScan {
			full = append(full, s)
		} else {
			frag = append(frag, s)
		}
	}

	return newScanQueue(acquisition.FullScan, full), newScanQueue(acquisition.MSnScan, frag)
}

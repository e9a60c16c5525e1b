package barcode

import (
	"context"
	"log"
	"sort"
)

// ROIScan is the ladder's view of one Barcode-ROI result after fan-in.
type ROIScan struct {
	Idx             int
	DeviceLocation  int
	IsDeviceBarcode bool
	Values          []string // decoded strings, verbatim
}

// Resolved is the ladder's verdict for one device.
type Resolved struct {
	Value    string
	Priority int
	Linked   bool
}

// NotAvailable is the terminal P4 value.
const NotAvailable = "N/A"

// Ladder applies the five-priority selection per device after all ROI
// tasks have terminated. It is the single writer of canonical device
// barcodes: executors only ever report raw scans.
type Ladder struct {
	linker *Linker
	logger *log.Logger
}

// NewLadder creates a ladder over a linker.
func NewLadder(linker *Linker) *Ladder {
	return &Ladder{
		linker: linker,
		logger: log.New(log.Writer(), "[BARCODE] ", log.LstdFlags),
	}
}

// Resolve selects the canonical barcode for every device in devices.
//
// Priorities: P0 a device-barcode ROI with a non-empty scan, P1 any
// ROI scan for the device, P2 the caller's per-device mapping, P3 the
// caller's singular legacy value, P4 the literal "N/A". Values chosen
// at P0..P3 go through the linker; P4 never does.
func (l *Ladder) Resolve(ctx context.Context, devices []int, scans []ROIScan, deviceBarcodes map[int]string, deviceBarcode string) map[int]Resolved {
	byDevice := make(map[int][]ROIScan)
	for _, s := range scans {
		byDevice[s.DeviceLocation] = append(byDevice[s.DeviceLocation], s)
	}
	// Deterministic pick inside a priority class: lowest idx wins.
	for d := range byDevice {
		sort.Slice(byDevice[d], func(i, j int) bool {
			return byDevice[d][i].Idx < byDevice[d][j].Idx
		})
	}

	out := make(map[int]Resolved, len(devices))
	for _, d := range devices {
		raw, priority := l.pick(byDevice[d], deviceBarcodes, deviceBarcode, d)
		if priority == 4 {
			out[d] = Resolved{Value: NotAvailable, Priority: 4}
			continue
		}
		out[d] = l.link(ctx, raw, priority)
	}
	return out
}

func (l *Ladder) pick(scans []ROIScan, deviceBarcodes map[int]string, deviceBarcode string, d int) (string, int) {
	// P0: designated device-barcode ROI with a scan.
	for _, s := range scans {
		if s.IsDeviceBarcode && len(s.Values) > 0 {
			return s.Values[0], 0
		}
	}
	// P1: any scan for the device.
	for _, s := range scans {
		if len(s.Values) > 0 {
			return s.Values[0], 1
		}
	}
	// P2: caller-supplied per-device mapping.
	if v, ok := deviceBarcodes[d]; ok && v != "" {
		return v, 2
	}
	// P3: caller-supplied singular legacy value.
	if deviceBarcode != "" {
		return deviceBarcode, 3
	}
	return "", 4
}

func (l *Ladder) link(ctx context.Context, raw string, priority int) Resolved {
	if canonical, ok := l.linker.Link(ctx, raw); ok {
		l.logger.Printf("[P%d] %s -> %s", priority, raw, canonical)
		return Resolved{Value: canonical, Priority: priority, Linked: true}
	}
	l.logger.Printf("[P%d] %s (linking not applied)", priority, raw)
	return Resolved{Value: raw, Priority: priority}
}

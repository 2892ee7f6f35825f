package speedtest

import (
	"fmt"
	"strconv"
)

type UnitType int

// IEC and SI
const (
	UnitTypeDecimalBits  = UnitType(iota) // auto scaled
	UnitTypeDecimalBytes                  // auto scaled
	UnitTypeBinaryBits                    // auto scaled
	UnitTypeBinaryBytes                   // auto scaled
	UnitTypeDefaultMbps                   // fixed
)

var (
	DecimalBitsUnits  = []string{"bps", "Kbps", "Mbps", "Gbps"}
	DecimalBytesUnits = []string{"B/s", "KB/s", "MB/s", "GB/s"}
	BinaryBitsUnits   = []string{"Kibps", "Mibps", "Gibps"}
	BinaryBytesUnits  = []string{"KiB/s", "MiB/s", "GiB/s"}
)

var unitMaps = map[UnitType][]string{
	UnitTypeDecimalBits:  DecimalBitsUnits,
	UnitTypeDecimalBytes: DecimalBytesUnits,
	UnitTypeBinaryBits:   BinaryBitsUnits,
	UnitTypeBinaryBytes:  BinaryBytesUnits,
}

var unitNames = map[string]UnitType{
	"bits":         UnitTypeDecimalBits,
	"bytes":        UnitTypeDecimalBytes,
	"binary-bits":  UnitTypeBinaryBits,
	"binary-bytes": UnitTypeBinaryBytes,
	"mbps":         UnitTypeDefaultMbps,
}

// UnitNames lists the names accepted by ParseUnitType.
func UnitNames() []string {
	return []string{"bits", "bytes", "binary-bits", "binary-bytes", "mbps"}
}

func ParseUnitType(name string) (UnitType, error) {
	u, ok := unitNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown unit %q", name)
	}
	return u, nil
}

const (
	B  = 1.0
	KB = 1000 * B
	MB = 1000 * KB
	GB = 1000 * MB

	IB  = 1
	KiB = 1024 * IB
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// BitRate is a throughput in bits per second. -1 means not measured.
type BitRate float64

func (r BitRate) String() string {
	return r.Format(UnitTypeDefaultMbps)
}

func (r BitRate) Mbps() float64 {
	return float64(r) / 1e6
}

// Format renders the rate in the given unit family.
func (r BitRate) Format(u UnitType) string {
	if r == 0 {
		return "0.00 Mbps"
	}
	if r == -1 {
		return "N/A"
	}
	if u == UnitTypeDefaultMbps {
		return strconv.FormatFloat(r.Mbps(), 'f', 2, 64) + " Mbps"
	}
	return format(float64(r)/8, u)
}

func format(byteRate float64, i UnitType) string {
	val := byteRate
	if i%2 == 0 {
		val *= 8
	}
	if i < UnitTypeBinaryBits {
		switch {
		case byteRate >= GB:
			return strconv.FormatFloat(val/GB, 'f', 2, 64) + " " + unitMaps[i][3]
		case byteRate >= MB:
			return strconv.FormatFloat(val/MB, 'f', 2, 64) + " " + unitMaps[i][2]
		case byteRate >= KB:
			return strconv.FormatFloat(val/KB, 'f', 2, 64) + " " + unitMaps[i][1]
		default:
			return strconv.FormatFloat(val/B, 'f', 2, 64) + " " + unitMaps[i][0]
		}
	}
	switch {
	case byteRate >= GiB:
		return strconv.FormatFloat(val/GiB, 'f', 2, 64) + " " + unitMaps[i][2]
	case byteRate >= MiB:
		return strconv.FormatFloat(val/MiB, 'f', 2, 64) + " " + unitMaps[i][1]
	default:
		return strconv.FormatFloat(val/KiB, 'f', 2, 64) + " " + unitMaps[i][0]
	}
}

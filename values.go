package pgsafe

import (
	"encoding/base64"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// convertValue turns a value decoded by pgx into something encoding/json
// renders faithfully. Types JSON cannot express (NaN, infinities, intervals,
// geometric types, bit strings) become their PostgreSQL text form.
func convertValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string, bool, int16, int32, int64:
		return val
	case float32:
		return convertFloat(float64(val), val)
	case float64:
		return convertFloat(val, val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		// bytea
		return base64.StdEncoding.EncodeToString(val)
	case netip.Prefix:
		return val.String()
	case net.HardwareAddr:
		return val.String()
	case pgtype.Numeric:
		return convertNumeric(val)
	case pgtype.Time:
		if !val.Valid {
			return nil
		}
		return formatTimeOfDay(val.Microseconds)
	case pgtype.Interval:
		if !val.Valid {
			return nil
		}
		return formatInterval(val)
	case pgtype.Range[any]:
		return formatRange(val)
	case pgtype.Bits:
		if !val.Valid {
			return nil
		}
		return formatBits(val)
	case pgtype.Point, pgtype.Line, pgtype.Lseg, pgtype.Box, pgtype.Path, pgtype.Polygon, pgtype.Circle:
		return formatGeometric(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = convertValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = convertValue(item)
		}
		return out
	default:
		return val
	}
}

func convertFloat(f float64, original any) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return original
}

// convertNumeric keeps numerics as strings so no precision is lost.
func convertNumeric(n pgtype.Numeric) any {
	if !n.Valid {
		return nil
	}
	switch {
	case n.NaN:
		return "NaN"
	case n.InfinityModifier == pgtype.Infinity:
		return "Infinity"
	case n.InfinityModifier == pgtype.NegativeInfinity:
		return "-Infinity"
	}
	b, err := n.MarshalJSON()
	if err != nil {
		return nil
	}
	return string(b)
}

func formatTimeOfDay(us int64) string {
	hours := us / 3_600_000_000
	us -= hours * 3_600_000_000
	minutes := us / 60_000_000
	us -= minutes * 60_000_000
	seconds := us / 1_000_000
	us -= seconds * 1_000_000
	if us > 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%06d", hours, minutes, seconds, us)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

func formatInterval(iv pgtype.Interval) string {
	var parts []string
	if years := iv.Months / 12; years != 0 {
		parts = append(parts, fmt.Sprintf("%d year(s)", years))
	}
	if months := iv.Months % 12; months != 0 {
		parts = append(parts, fmt.Sprintf("%d mon(s)", months))
	}
	if iv.Days != 0 {
		parts = append(parts, fmt.Sprintf("%d day(s)", iv.Days))
	}
	if iv.Microseconds != 0 {
		parts = append(parts, (time.Duration(iv.Microseconds) * time.Microsecond).String())
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, " ")
}

func formatRange(r pgtype.Range[any]) any {
	if !r.Valid {
		return nil
	}
	if r.LowerType == pgtype.Empty {
		return "empty"
	}
	var sb strings.Builder
	if r.LowerType == pgtype.Inclusive {
		sb.WriteByte('[')
	} else {
		sb.WriteByte('(')
	}
	if r.LowerType != pgtype.Unbounded {
		fmt.Fprintf(&sb, "%v", convertValue(r.Lower))
	}
	sb.WriteByte(',')
	if r.UpperType != pgtype.Unbounded {
		fmt.Fprintf(&sb, "%v", convertValue(r.Upper))
	}
	if r.UpperType == pgtype.Inclusive {
		sb.WriteByte(']')
	} else {
		sb.WriteByte(')')
	}
	return sb.String()
}

func formatBits(b pgtype.Bits) string {
	out := make([]byte, b.Len)
	for i := int32(0); i < b.Len; i++ {
		if b.Bytes[i/8]&(1<<uint(7-i%8)) != 0 {
			out[i] = '1'
		} else {
			out[i] = '0'
		}
	}
	return string(out)
}

func formatPoints(points []pgtype.Vec2) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = fmt.Sprintf("(%g,%g)", p.X, p.Y)
	}
	return strings.Join(parts, ",")
}

func formatGeometric(v any) any {
	switch g := v.(type) {
	case pgtype.Point:
		if !g.Valid {
			return nil
		}
		return fmt.Sprintf("(%g,%g)", g.P.X, g.P.Y)
	case pgtype.Line:
		if !g.Valid {
			return nil
		}
		return fmt.Sprintf("{%g,%g,%g}", g.A, g.B, g.C)
	case pgtype.Lseg:
		if !g.Valid {
			return nil
		}
		return "[" + formatPoints(g.P[:]) + "]"
	case pgtype.Box:
		if !g.Valid {
			return nil
		}
		return formatPoints(g.P[:])
	case pgtype.Path:
		if !g.Valid {
			return nil
		}
		if g.Closed {
			return "(" + formatPoints(g.P) + ")"
		}
		return "[" + formatPoints(g.P) + "]"
	case pgtype.Polygon:
		if !g.Valid {
			return nil
		}
		return "(" + formatPoints(g.P) + ")"
	case pgtype.Circle:
		if !g.Valid {
			return nil
		}
		return fmt.Sprintf("<(%g,%g),%g>", g.P.X, g.P.Y, g.R)
	}
	return v
}

package parser

import (
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/raphaelgruber/wikibatch/internal/models"
)

// Concept URIs used for calendar models and globes.
const (
	conceptBase     = "http://www.wikidata.org/entity/"
	CalendarGreg    = conceptBase + "Q1985727"
	CalendarJulian  = conceptBase + "Q1985786"
	GlobeEarth      = conceptBase + "Q2"
	defaultTimePrec = 9
	defaultGeoPrec  = 0.000001
)

var (
	rePropertyID = regexp.MustCompile(`^P\d+$`)
	reSourceID   = regexp.MustCompile(`^!?S(\d+)$`)
	reItemID     = regexp.MustCompile(`^[QM]\d+$`)
	reEntityID   = regexp.MustCompile(`^(?:[QMPL]\d+|L\d+-[FS]\d+)$`)
	reLabel      = regexp.MustCompile(`^L([a-z-]{2,})$`)
	reAlias      = regexp.MustCompile(`^A([a-z-]{2,})$`)
	reDesc       = regexp.MustCompile(`^D([a-z-]{2,})$`)
	reSitelink   = regexp.MustCompile(`^S([a-z]{2,})$`)
	reRank       = regexp.MustCompile(`^R(-|0|\+|deprecated|normal|preferred)$`)
	reStatement  = regexp.MustCompile(`^(?i:[QMPL]\d+)\$[0-9A-Za-z-]+$`)
	reDatatype   = regexp.MustCompile(`^[a-zA-Z-]+$`)

	reURL         = regexp.MustCompile(`^"""(https?:.*)"""$`)
	reMedia       = regexp.MustCompile(`^"""(.*\.(?:jpg|JPG|jpeg|JPEG|png|PNG))"""$`)
	reExternalID  = regexp.MustCompile(`^"""(.*)"""$`)
	reMonolingual = regexp.MustCompile(`^([a-z_-]+):"(.*)"$`)
	reString      = regexp.MustCompile(`^"(.*)"$`)
	reTimeLike    = regexp.MustCompile(`^[+-]?\d+-\d`)
	reTime        = regexp.MustCompile(`^([+-]?\d+-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z)(?:/(\d+))?(?:/(J|C(\d+)))?$`)
	reCoordinate  = regexp.MustCompile(`^@\s*([+-]?[0-9.]+)\s*/\s*([+-]?[0-9.]+)(?:\s*/\s*G(\d+))?(?:\s*/\s*(arcsec(?:10{0,3})?|arcmin|-[1-6]|0|1))?$`)

	decimal         = `[+-]?\d+(?:\.\d+)?`
	reQuantity      = regexp.MustCompile(`^(` + decimal + `)(?:U(\d+))?$`)
	reQuantityRange = regexp.MustCompile(`^(` + decimal + `)\[(` + decimal + `),\s?(` + decimal + `)\](?:U(\d+))?$`)
	reQuantityError = regexp.MustCompile(`^(` + decimal + `)\s*~\s*(` + decimal + `)(?:U(\d+))?$`)
)

var geoPrecisions = map[string]float64{
	"arcsec":     0.000277777777778,
	"arcsec10":   0.000027777777778,
	"arcsec100":  0.000002777777778,
	"arcsec1000": 0.000000277777778,
	"arcmin":     0.016666666666667,
	"-6":         0.000001,
	"-5":         0.00001,
	"-4":         0.0001,
	"-3":         0.001,
	"-2":         0.01,
	"-1":         0.1,
	"0":          1,
	"1":          10,
}

var quoteReplacer = strings.NewReplacer("“", `"`, "”", `"`)

// IsPropertyID reports whether s is a property id such as P31.
func IsPropertyID(s string) bool { return rePropertyID.MatchString(s) }

// IsEntityID reports whether s is an item, property, lexeme, form, sense or
// media id.
func IsEntityID(s string) bool { return reEntityID.MatchString(s) }

// ParseValue decodes one value literal.
func ParseValue(raw string) (models.Value, error) {
	v := quoteReplacer.Replace(strings.TrimSpace(raw))
	if v == "" {
		return nil, errorf("empty value")
	}

	switch v {
	case "somevalue":
		return models.SomeValue{}, nil
	case "novalue":
		return models.NoValue{}, nil
	case string(models.Last):
		return models.EntityValue{ID: models.Last}, nil
	}
	if IsEntityID(v) {
		return models.EntityValue{ID: models.EntityRef(v)}, nil
	}
	if m := reURL.FindStringSubmatch(v); m != nil {
		return models.StringValue{Text: m[1]}, nil
	}
	if m := reMedia.FindStringSubmatch(v); m != nil {
		return models.StringValue{Text: m[1]}, nil
	}
	if m := reExternalID.FindStringSubmatch(v); m != nil {
		return models.StringValue{Text: m[1]}, nil
	}
	if m := reMonolingual.FindStringSubmatch(v); m != nil {
		return models.MonolingualValue{Language: m[1], Text: strings.TrimSpace(m[2])}, nil
	}
	if m := reString.FindStringSubmatch(v); m != nil {
		return models.StringValue{Text: strings.TrimSpace(m[1])}, nil
	}
	if reTimeLike.MatchString(v) {
		return parseTime(v)
	}
	if strings.HasPrefix(v, "@") {
		return parseCoordinate(v)
	}
	if q, ok, err := parseQuantity(v); ok || err != nil {
		return q, err
	}
	return nil, errorf("unrecognized value %q", v)
}

func parseTime(v string) (models.Value, error) {
	m := reTime.FindStringSubmatch(v)
	if m == nil {
		return nil, errorf("malformed time %q", v)
	}
	t := m[1]
	if t[0] != '+' && t[0] != '-' {
		t = "+" + t
	}
	prec := defaultTimePrec
	if m[2] != "" {
		p, err := strconv.Atoi(m[2])
		if err != nil || p > 14 {
			return nil, errorf("invalid time precision %q", m[2])
		}
		prec = p
	}
	cal := CalendarGreg
	switch {
	case m[3] == "J":
		cal = CalendarJulian
	case m[4] != "":
		cal = conceptBase + "Q" + m[4]
	}
	return models.TimeValue{Time: t, Precision: prec, Calendar: cal}, nil
}

func parseCoordinate(v string) (models.Value, error) {
	m := reCoordinate.FindStringSubmatch(v)
	if m == nil {
		return nil, errorf("malformed coordinate %q", v)
	}
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, errorf("invalid latitude %q", m[1])
	}
	lon, err := strconv.ParseFloat(m[2], 64)
	if err != nil || lon < -360 || lon > 360 {
		return nil, errorf("invalid longitude %q", m[2])
	}
	globe := GlobeEarth
	if m[3] != "" {
		globe = conceptBase + "Q" + m[3]
	}
	prec := defaultGeoPrec
	if m[4] != "" {
		prec = geoPrecisions[m[4]]
	}
	return models.CoordinateValue{
		Latitude:       lat,
		Longitude:      lon,
		Precision:      prec,
		PrecisionToken: m[4],
		Globe:          globe,
	}, nil
}

// parseQuantity returns ok=false when v does not look like a quantity at all.
func parseQuantity(v string) (models.Value, bool, error) {
	if m := reQuantity.FindStringSubmatch(v); m != nil {
		amount, _, err := normalizeDecimal(m[1])
		if err != nil {
			return nil, true, err
		}
		return models.QuantityValue{Amount: amount, Unit: unitID(m[2])}, true, nil
	}
	if m := reQuantityRange.FindStringSubmatch(v); m != nil {
		amount, a, err := normalizeDecimal(m[1])
		if err != nil {
			return nil, true, err
		}
		lower, lo, err := normalizeDecimal(m[2])
		if err != nil {
			return nil, true, err
		}
		upper, hi, err := normalizeDecimal(m[3])
		if err != nil {
			return nil, true, err
		}
		if lo.Cmp(a) > 0 || hi.Cmp(a) < 0 {
			return nil, true, errorf("quantity bounds [%s,%s] do not contain %s", m[2], m[3], m[1])
		}
		return models.QuantityValue{Amount: amount, LowerBound: lower, UpperBound: upper, Unit: unitID(m[4])}, true, nil
	}
	if m := reQuantityError.FindStringSubmatch(v); m != nil {
		amount, a, err := normalizeDecimal(m[1])
		if err != nil {
			return nil, true, err
		}
		e, ok := new(big.Rat).SetString(m[2])
		if !ok {
			return nil, true, errorf("invalid quantity error %q", m[2])
		}
		scale := max(decimalScale(m[1]), decimalScale(m[2]))
		tolerance := e.FloatString(decimalScale(m[2]))
		lower := new(big.Rat).Sub(a, e)
		upper := new(big.Rat).Add(a, e)
		return models.QuantityValue{
			Amount:     amount,
			LowerBound: signed(lower, scale),
			UpperBound: signed(upper, scale),
			Tolerance:  tolerance,
			Unit:       unitID(m[3]),
		}, true, nil
	}
	if len(v) > 0 && (v[0] == '+' || v[0] == '-' || (v[0] >= '0' && v[0] <= '9')) {
		return nil, true, errorf("malformed quantity %q", v)
	}
	return nil, false, nil
}

func unitID(digits string) string {
	if digits == "" {
		return "1"
	}
	return "Q" + digits
}

// normalizeDecimal renders s with an explicit sign and its original number
// of fractional digits.
func normalizeDecimal(s string) (string, *big.Rat, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return "", nil, errorf("invalid number %q", s)
	}
	return signed(r, decimalScale(s)), r, nil
}

func signed(r *big.Rat, scale int) string {
	s := r.FloatString(scale)
	if r.Sign() >= 0 {
		return "+" + s
	}
	return s
}

func decimalScale(s string) int {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// parseQuoted decodes a term value: a double-quoted string.
func parseQuoted(raw string) (string, error) {
	v := quoteReplacer.Replace(strings.TrimSpace(raw))
	m := reString.FindStringSubmatch(v)
	if m == nil {
		return "", errorf("expected a quoted string, got %q", raw)
	}
	return strings.TrimSpace(m[1]), nil
}

func parseRank(tok string) (models.Rank, bool) {
	m := reRank.FindStringSubmatch(tok)
	if m == nil {
		return "", false
	}
	switch m[1] {
	case "-", "deprecated":
		return models.RankDeprecated, true
	case "0", "normal":
		return models.RankNormal, true
	default:
		return models.RankPreferred, true
	}
}

func parseSubject(tok string) (models.EntityRef, error) {
	if tok == string(models.Last) || IsEntityID(tok) {
		return models.EntityRef(tok), nil
	}
	return "", errorf("invalid entity %q", tok)
}

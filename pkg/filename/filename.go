// Package filename parses the data file naming convention used on the mirror:
// YYYYMMDD.HHMM.SS.<station>[.<channel>].<dataType>.<ext>
// e.g. "20200804.2200.01.mcm.a.rawacf.bz2".
//
// The first six characters of a well-formed name double as the manifest group
// key (YYYYMM), which decides both the manifest a file is recorded in and the
// directory it lands in on the mirror.
package filename

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/superdarn-canada/gatekeeper/pkg/errors"
)

// File holds the parsed elements of a data file name.
type File struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int

	// Station is the three-letter radar abbreviation, e.g. "sas".
	Station string

	// Channel is the single-letter channel identifier, or empty if the name
	// doesn't carry one.
	Channel string

	// DataType is the record type, e.g. "rawacf".
	DataType string

	// Ext is the container extension, e.g. "bz2".
	Ext string
}

// GroupKey returns the YYYYMM manifest partitioning key for the file.
func (f File) GroupKey() string {
	return fmt.Sprintf("%04d%02d", f.Year, f.Month)
}

// Parse parses a data file name. Names must have either six dot-separated
// elements, or seven when a channel identifier is present.
func Parse(name string) (File, error) {
	elements := strings.Split(name, ".")
	if len(elements) != 6 && len(elements) != 7 {
		return File{}, errors.New(fmt.Sprintf(
			"incorrect number of elements: %d for filename %q, expect 6 or 7",
			len(elements), name))
	}

	datePart, timePart := elements[0], elements[1]
	if len(datePart) != 8 || len(timePart) != 4 {
		return File{}, errors.New(fmt.Sprintf("malformed date or time in %q", name))
	}

	var parseErr error
	atoi := func(s string) int {
		n, err := strconv.Atoi(s)
		if err != nil && parseErr == nil {
			parseErr = err
		}
		return n
	}

	f := File{
		Year:    atoi(datePart[0:4]),
		Month:   atoi(datePart[4:6]),
		Day:     atoi(datePart[6:8]),
		Hour:    atoi(timePart[0:2]),
		Minute:  atoi(timePart[2:4]),
		Second:  atoi(elements[2]),
		Station: elements[3],
	}
	if parseErr != nil {
		return File{}, errors.WithContext(parseErr, fmt.Sprintf("parse %q", name))
	}

	if len(elements) == 7 {
		f.Channel = elements[4]
		f.DataType = elements[5]
	} else {
		f.DataType = elements[4]
	}
	f.Ext = elements[len(elements)-1]

	if f.Month < 1 || f.Month > 12 {
		return File{}, errors.New(fmt.Sprintf("month out of range in %q", name))
	}
	return f, nil
}

// ChannelLetter converts a numeric slice id into the single-letter channel
// identifier used in file names. Only ids 0 through 25 can be represented.
func ChannelLetter(sliceID int) (string, error) {
	if sliceID < 0 || sliceID > 25 {
		return "", errors.New(fmt.Sprintf(
			"slice id %d cannot be represented as a channel letter a-z", sliceID))
	}
	return string(rune('a' + sliceID)), nil
}

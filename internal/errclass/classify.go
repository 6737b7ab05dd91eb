package errclass

import "strconv"

// Category identifies the class of a transcoder failure.
type Category string

const (
	CategoryTransient     Category = "transient"
	CategoryConfigOrInput Category = "config_or_input"
	CategoryPermission    Category = "permission"
	CategoryUnknown       Category = "unknown"
)

// Classification is the verdict for one error code.
type Classification struct {
	Code      int
	Category  Category
	Retryable bool
}

var (
	transientCodes  = map[int]struct{}{1517: {}, 1522: {}, 1550: {}, 1999: {}}
	configCodes     = map[int]struct{}{1010: {}, 1030: {}, 1040: {}}
	permissionCodes = map[int]struct{}{1401: {}, 1432: {}, 1433: {}}
)

// Classify returns the category for a transcoder error code.
func Classify(code int) Classification {
	if _, ok := transientCodes[code]; ok {
		return Classification{Code: code, Category: CategoryTransient, Retryable: true}
	}
	if _, ok := configCodes[code]; ok {
		return Classification{Code: code, Category: CategoryConfigOrInput}
	}
	if _, ok := permissionCodes[code]; ok {
		return Classification{Code: code, Category: CategoryPermission}
	}
	return Classification{Code: code, Category: CategoryUnknown}
}

// ClassifyString parses a textual code before classifying it. Codes that are
// not integers are unknown.
func ClassifyString(code string) Classification {
	value, err := strconv.Atoi(code)
	if err != nil {
		return Classification{Category: CategoryUnknown}
	}
	return Classify(value)
}

// ShouldRetry reports whether an attempt that failed with code may be resubmitted
// with the same preset given how many retries the file has already used.
func ShouldRetry(code, retryCount, maxRetries int) bool {
	return Classify(code).Retryable && retryCount < maxRetries
}

// String renders the classification for log lines.
func (c Classification) String() string {
	return strconv.Itoa(c.Code) + "/" + string(c.Category)
}

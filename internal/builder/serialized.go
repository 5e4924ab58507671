package builder

import (
	"regexp"
	"strings"
)

var (
	serializedCompound = regexp.MustCompile(`^[aOE]:[0-9]+:`)
	serializedString   = regexp.MustCompile(`^s:[0-9]+:`)
	serializedScalar   = regexp.MustCompile(`^[bid]:[0-9.E+-]+;$`)
)

// IsSerialized reports whether data is a PHP-serialized value, using the
// same strict checks WordPress applies before unserializing meta.
func IsSerialized(data string) bool {
	data = strings.TrimSpace(data)
	if data == "N;" {
		return true
	}
	if len(data) < 4 || data[1] != ':' {
		return false
	}

	last := data[len(data)-1]
	if last != ';' && last != '}' {
		return false
	}

	switch data[0] {
	case 's':
		if data[len(data)-2] != '"' {
			return false
		}
		return serializedString.MatchString(data)
	case 'a', 'O', 'E':
		return serializedCompound.MatchString(data)
	case 'b', 'i', 'd':
		return serializedScalar.MatchString(data)
	}
	return false
}

package log

import (
	"fmt"

	"go.uber.org/zap"
)

// toFields converts a loose key-value argument list to zap fields.
// Accepted shapes, in order of precedence per argument:
//  1. a zap.Field is passed through as-is;
//  2. a bare error becomes zap.Error(err);
//  3. a (string, any) pair becomes zap.Any(key, value);
//  4. a trailing unpaired value or a non-string key is kept under a
//     synthetic key rather than dropped.
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)

	for i := 0; i < len(args); {
		if f, ok := args[i].(zap.Field); ok {
			fields = append(fields, f)
			i++
			continue
		}

		if err, ok := args[i].(error); ok {
			fields = append(fields, zap.Error(err))
			i++
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any(fmt.Sprintf("arg#%d", i), args[i]))
			break
		}

		key, val := args[i], args[i+1]
		i += 2

		keyStr, ok := key.(string)
		if !ok {
			fields = append(fields, zap.Any(fmt.Sprintf("invalid_key_%d", i/2), map[string]any{
				"key":   key,
				"value": val,
			}))
			continue
		}

		fields = append(fields, zap.Any(keyStr, val))
	}

	return fields
}

package endpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// maxBodyBytes bounds JSON bodies decoded into params.
const maxBodyBytes = 1 << 20

// Unmarshal populates dst from r according to struct tags on dst's fields:
//
//	path:"name"    value of the {name} wildcard in the ServeMux pattern
//	query:"name"   first value of the query parameter
//	header:"Name"  first value of the request header
//	body:"json"    the request body decoded as JSON
//
// dst must be a pointer to a struct. Embedded structs are walked. Missing
// values leave the field untouched. Supported scalar kinds are string, bool,
// ints and []string.
func Unmarshal(r *http.Request, dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return errors.New("endpoint: params must be a non-nil pointer")
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return errors.New("endpoint: params must point to a struct")
	}
	return unmarshalStruct(r, v)
}

func unmarshalStruct(r *http.Request, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		field := v.Field(i)

		if sf.Anonymous && field.Kind() == reflect.Struct {
			if err := unmarshalStruct(r, field); err != nil {
				return err
			}
			continue
		}
		if !sf.IsExported() {
			continue
		}

		if name, ok := sf.Tag.Lookup("path"); ok {
			if s := r.PathValue(name); s != "" {
				if err := setField(field, []string{s}); err != nil {
					return Error(http.StatusBadRequest, fmt.Sprintf("invalid path parameter %q", name), err)
				}
			}
			continue
		}
		if name, ok := sf.Tag.Lookup("query"); ok {
			if vals, ok := r.URL.Query()[name]; ok {
				if err := setField(field, vals); err != nil {
					return Error(http.StatusBadRequest, fmt.Sprintf("invalid query parameter %q", name), err)
				}
			}
			continue
		}
		if name, ok := sf.Tag.Lookup("header"); ok {
			if vals := r.Header.Values(name); len(vals) > 0 {
				if err := setField(field, vals); err != nil {
					return Error(http.StatusBadRequest, fmt.Sprintf("invalid header %q", name), err)
				}
			}
			continue
		}
		if enc, ok := sf.Tag.Lookup("body"); ok {
			if enc != "json" {
				return fmt.Errorf("endpoint: unsupported body encoding %q", enc)
			}
			if err := decodeJSONBody(r, field); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeJSONBody(r *http.Request, field reflect.Value) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return Error(http.StatusUnsupportedMediaType, "expected application/json body", nil)
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return Error(http.StatusBadRequest, "failed to read body", err)
	}
	if len(b) > maxBodyBytes {
		return Error(http.StatusRequestEntityTooLarge, "body too large", nil)
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, field.Addr().Interface()); err != nil {
		return Error(http.StatusBadRequest, "invalid JSON body", err)
	}
	return nil
}

func setField(field reflect.Value, vals []string) error {
	if field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String {
		field.Set(reflect.ValueOf(append([]string(nil), vals...)).Convert(field.Type()))
		return nil
	}
	s := vals[0]
	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

package bids

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: Entity round-trip.
//
// For all valid entity sets, formatting the canonical name and parsing it
// back yields the original entity set.

// genLabel produces alphanumeric entity labels.
func genLabel() gopter.Gen {
	return gen.RegexMatch(`[a-zA-Z0-9]{1,8}`)
}

// genSuffix produces suffixes drawn from the acquisition types the mapper
// handles, plus arbitrary alphanumeric suffixes.
func genSuffix() gopter.Gen {
	return gen.OneGenOf(
		gen.OneConstOf("T1w", "T2w", "bold", "events", "sbref"),
		gen.RegexMatch(`[a-zA-Z0-9]{1,8}`),
	)
}

func genEntities() gopter.Gen {
	return gopter.CombineGens(
		genLabel(),          // subject
		genLabel(),          // session
		genLabel(),          // task
		gen.IntRange(0, 99), // run, 0 = absent
		genSuffix(),         // suffix
		gen.Bool(),          // include task
	).Map(func(values []interface{}) Entities {
		e := Entities{
			Subject: values[0].(string),
			Session: values[1].(string),
			Suffix:  values[4].(string),
		}
		if values[5].(bool) {
			e.Task = values[2].(string)
			e.Run = values[3].(int)
		}
		return e
	})
}

func TestEntityRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("parse(name(e)) == e for all valid entity sets", prop.ForAll(
		func(e Entities) bool {
			parsed, err := Parse(e.Name())
			if err != nil {
				return false
			}
			return parsed == e
		},
		genEntities(),
	))

	properties.Property("names without a subject always mismatch", prop.ForAll(
		func(session, suffix string) bool {
			_, err := Parse("ses-" + session + "_" + suffix)
			return err != nil
		},
		genLabel(),
		genSuffix(),
	))

	properties.TestingRun(t)
}

package enums

// declaration of various enums for
// user data validation purposes

import (
	"github.com/orsinium-labs/enum"
)

type Variant enum.Member[string]

var (
	vr = enum.NewBuilder[string, Variant]()

	VariantFull         = vr.Add(Variant{"full"})
	VariantSimple       = vr.Add(Variant{"simple"})
	VariantFace         = vr.Add(Variant{"face"})
	VariantNoFace       = vr.Add(Variant{"noface"})
	VariantNoFaceKalman = vr.Add(Variant{"nofacekalman"})
	VariantScreenshot   = vr.Add(Variant{"screenshot"})

	Variants = vr.Enum()
)

type Pairing enum.Member[string]

var (
	pr = enum.NewBuilder[string, Pairing]()

	// every frame is paired with the next one
	PairingSliding = pr.Add(Pairing{"sliding"})
	// frames are consumed two at a time
	PairingDisjoint = pr.Add(Pairing{"disjoint"})

	Pairings = pr.Enum()
)

type Aggregate enum.Member[string]

var (
	ag = enum.NewBuilder[string, Aggregate]()

	AggregateMean = ag.Add(Aggregate{"mean"})
	AggregateSum  = ag.Add(Aggregate{"sum"})

	Aggregates = ag.Enum()
)

type InputType enum.Member[string]

var (
	ifl = enum.NewBuilder[string, InputType]()

	InputFile     = ifl.Add(InputType{"file"})
	InputWebcam   = ifl.Add(InputType{"webcam"})
	InputIPC      = ifl.Add(InputType{"ipc"})
	InputSequence = ifl.Add(InputType{"sequence"})

	InputTypes = ifl.Enum()
)

type LoggingLevel enum.Member[string]

var (
	ll = enum.NewBuilder[string, LoggingLevel]()

	LoggingLevelDebug = ll.Add(LoggingLevel{"debug"})
	LoggingLevelInfo  = ll.Add(LoggingLevel{"info"})
	LoggingLevelWarn  = ll.Add(LoggingLevel{"warn"})
	LoggingLevelError = ll.Add(LoggingLevel{"error"})

	LoggingLevels = ll.Enum()
)

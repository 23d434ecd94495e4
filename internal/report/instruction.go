package report

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/MikeSquared-Agency/Crucible/internal/alloy"
	"github.com/MikeSquared-Agency/Crucible/internal/blend"
)

// InstructionLine is one item to charge on the furnace floor.
type InstructionLine struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit"`
}

func (l InstructionLine) String() string {
	return FormatGrams(l.Amount) + l.Unit
}

// Instruction is the printable charging sheet for one channel.
type Instruction struct {
	Channel        string              `json:"channel"`
	Charge         alloy.ChargeContext `json:"charge"`
	BaseMaterials  []InstructionLine   `json:"base_materials"`
	AlloyMaterials []InstructionLine   `json:"alloy_materials"`
	Additives      []InstructionLine   `json:"additives"`
}

// Instructable reports whether a channel belongs on the instruction sheet. Channels
// without a carbon target are left off.
func Instructable(res blend.Result) bool {
	return res.Spec.Target(alloy.Carbon).Value > 0
}

// BuildInstruction scales the phase-one masses by multiplier. Base materials are
// listed in whole kilograms and alloys in grams. Additives are not scaled.
func BuildInstruction(channel string, res blend.Result, multiplier float64) Instruction {
	in := Instruction{Channel: channel, Charge: res.Charge}
	for _, m := range res.Materials {
		g := res.Dosing.Urgent(m.Name)
		if g <= 0 {
			continue
		}
		g *= multiplier
		if m.IsBase() {
			in.BaseMaterials = append(in.BaseMaterials, InstructionLine{Name: m.Name, Amount: math.Round(g / 1000), Unit: "kg"})
			continue
		}
		in.AlloyMaterials = append(in.AlloyMaterials, InstructionLine{Name: m.Name, Amount: math.Round(g), Unit: "g"})
	}
	for _, a := range res.Additives {
		if a.Grams <= 0 {
			continue
		}
		in.Additives = append(in.Additives, InstructionLine{Name: a.Additive.Name, Amount: math.Round(a.Grams), Unit: "g"})
	}
	return in
}

// WriteInstructions prints the charging sheets for several channels.
func WriteInstructions(w io.Writer, title string, sheets []Instruction) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Instruction sheet - %s\n\n", title)
	for _, s := range sheets {
		fmt.Fprintf(tw, "[%s]\n", s.Channel)
		fmt.Fprintf(tw, "  Charge mass:\t%skg\n", num(s.Charge.TotalMassGrams/1000))
		fmt.Fprintf(tw, "  Remaining melt:\t%skg\n", num(s.Charge.RemainingMassKg))
		fmt.Fprintf(tw, "  Mode:\t%s\n", s.Charge.Mode)
		fmt.Fprintf(tw, "  Tapping temperature:\t%sC\n", num(s.Charge.TappingTempC))
		for _, group := range []struct {
			title string
			lines []InstructionLine
		}{
			{"Materials", s.BaseMaterials},
			{"Alloys", s.AlloyMaterials},
			{"Additives", s.Additives},
		} {
			if len(group.lines) == 0 {
				continue
			}
			fmt.Fprintf(tw, "  %s\n", group.title)
			for _, l := range group.lines {
				fmt.Fprintf(tw, "    %s\t%s\t□\n", l.Name, l)
			}
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

package fixedpoint

// reference constants from the OCV→SoC model, all Q8 volts or Q16 fractions.
const (
	v100Wet    = 3242
	v100GelAgm = 3280
	v50        = 3178
	v25        = 3075
	tempRef    = 12518 // Q8 degrees C, the 48.9C reference the model is built around
)

// ComputeSoC derives a State of Charge (percent x 256) from an open-circuit
// terminal voltage and ambient temperature, both in Q8. wetChemistry
// selects the linear wet-cell model; when false the gel/agm piecewise
// correction below v50 is additionally applied. The result is clamped to
// [0, 25600] and is pure and deterministic: callers must sample voltage
// only while the battery carries no appreciable current.
func ComputeSoC(voltage, temperature Q8, wetChemistry bool) Q8 {
	v100 := int64(v100Wet)
	if !wetChemistry {
		v100 = v100GelAgm
	}

	tDiff := (int64(tempRef) - int64(temperature)) >> 2
	vFactor := int64(65536) - ((42 * tDiff * tDiff) >> 20)
	ocv := (int64(voltage) * 65536) / vFactor

	soc := 100 * (int64(65536) - 320*(v100-ocv))

	if !wetChemistry {
		if ocv < v50 {
			if ocv > v25 {
				soc += 100 * 160 * (v50 - ocv)
			} else {
				soc += 100 * 160 * (v50 - v25)
			}
		}
	}

	return Clamp(Q8(soc>>8), 0, 25600)
}

package battery

import "math"

// GridLimits are the connection-point constraints the inverter enforces.
// Grid-first mode runs with the raised export cap.
type GridLimits struct {
	SelfUseExportKw   float64 `mapstructure:"self_use_export_kw" json:"selfUseExportKw"`
	GridFirstExportKw float64 `mapstructure:"grid_first_export_kw" json:"gridFirstExportKw"`
	ImportKw          float64 `mapstructure:"import_kw" json:"importKw"`
}

// SlotResult is the outcome of simulating one slot in a given mode.
// BatteryFlowKWh is store-side and signed: positive into the battery.
type SlotResult struct {
	State         State
	GridImportKWh float64
	GridExportKWh float64
	BatteryFlow   float64
	ClippedKWh    float64
}

// SimulateSelfUse routes solar to load first, surplus to the battery, the
// rest to the grid up to the self-use export cap. A load deficit is served
// from the battery, then from the grid.
func SimulateSelfUse(st State, solarKw, loadKw, durationHours float64, lim GridLimits) SlotResult {
	res := SlotResult{State: st}
	net := solarKw - loadKw

	if net > 0 {
		next, moved, _ := st.Apply(net, durationHours)
		remainingKw := net - moved/durationHours
		exportKw := math.Min(remainingKw, lim.SelfUseExportKw)
		res.State = next
		res.GridExportKWh = exportKw * durationHours
		res.ClippedKWh = math.Max(0, remainingKw-exportKw) * durationHours
	} else if net < 0 {
		next, moved, _ := st.Apply(net, durationHours)
		delivered := -moved
		res.State = next
		res.GridImportKWh = -net*durationHours - delivered
	}

	res.BatteryFlow = FlowKWh(st, res.State)
	return res
}

// SimulateGridFirst routes solar to the grid first up to the raised export
// cap, then to load, then to the battery. Clipping only occurs once the
// battery refuses the remainder.
func SimulateGridFirst(st State, solarKw, loadKw, durationHours float64, lim GridLimits) SlotResult {
	res := SlotResult{State: st}

	exportKw := math.Min(solarKw, lim.GridFirstExportKw)
	afterGridKw := solarKw - exportKw
	loadFromSolarKw := math.Min(afterGridKw, loadKw)
	afterLoadKw := afterGridKw - loadFromSolarKw

	res.GridExportKWh = exportKw * durationHours

	if afterLoadKw > 0 {
		next, moved, _ := st.Apply(afterLoadKw, durationHours)
		res.State = next
		res.ClippedKWh = afterLoadKw*durationHours - moved
	}

	if unmetKw := loadKw - loadFromSolarKw; unmetKw > 0 {
		next, moved, _ := res.State.Apply(-unmetKw, durationHours)
		delivered := -moved
		res.State = next
		res.GridImportKWh = unmetKw*durationHours - delivered
	}

	res.BatteryFlow = FlowKWh(st, res.State)
	return res
}

// SimulateForceCharge charges from the grid at rateKw while solar keeps
// serving the load. Surplus solar joins the charge; what neither battery nor
// self-use export can take is clipped.
func SimulateForceCharge(st State, solarKw, loadKw, durationHours, rateKw float64, lim GridLimits) SlotResult {
	res := SlotResult{State: st}

	solarToLoadKw := math.Min(solarKw, loadKw)
	gridForLoadKWh := (loadKw - solarToLoadKw) * durationHours
	surplusSolarKw := math.Max(0, solarKw-loadKw)

	next, moved, _ := st.Apply(rateKw+surplusSolarKw, durationHours)
	res.State = next

	solarShare := math.Min(surplusSolarKw*durationHours, moved)
	gridShare := moved - solarShare
	res.GridImportKWh = gridForLoadKWh + gridShare

	if leftoverKw := surplusSolarKw - solarShare/durationHours; leftoverKw > 0 {
		exportKw := math.Min(leftoverKw, lim.SelfUseExportKw)
		res.GridExportKWh = exportKw * durationHours
		res.ClippedKWh = (leftoverKw - exportKw) * durationHours
	}

	res.BatteryFlow = FlowKWh(st, res.State)
	return res
}

// SimulateForceDischarge discharges at rateKw, stopping at targetSoc when
// that is above the reserve floor. Delivered energy covers any load deficit
// first, the rest is exported within the self-use cap.
func SimulateForceDischarge(st State, solarKw, loadKw, durationHours, rateKw, targetSoc float64, lim GridLimits) SlotResult {
	res := SlotResult{State: st}

	floored := st
	if targetSoc > floored.MinSoc {
		floored.MinSoc = targetSoc
	}

	next, moved, _ := floored.Apply(-rateKw, durationHours)
	next.MinSoc = st.MinSoc
	delivered := -moved
	res.State = next

	unmetLoadKWh := math.Max(0, loadKw-solarKw) * durationHours
	toLoad := math.Min(delivered, unmetLoadKWh)
	res.GridImportKWh = unmetLoadKWh - toLoad

	exportPoolKWh := delivered - toLoad + math.Max(0, solarKw-loadKw)*durationHours
	capKWh := lim.SelfUseExportKw * durationHours
	res.GridExportKWh = math.Min(exportPoolKWh, capKWh)
	res.ClippedKWh = math.Max(0, exportPoolKWh-capKWh)

	res.BatteryFlow = FlowKWh(st, res.State)
	return res
}

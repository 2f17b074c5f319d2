package server

import (
	"net/http"
	"strconv"
	"time"

	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/version", s.VersionHandler)
	e.GET("/batteries", s.GetBatteriesHandler)
	e.POST("/calibrate", s.CalibrateHandler)
	e.POST("/batteries/:id/missing", s.SetBatteryMissingHandler)
	e.POST("/batteries/:id/soc", s.SetBatterySoCHandler)
	e.POST("/batteries/:id/soc/reset", s.ResetBatterySoCHandler)
	e.POST("/strategy", s.SetStrategyHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) VersionHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"version": versioninfo.Short(),
	})
}

// batteryPathParam parses the :id path param as the allocator's 1-based
// battery index, the same indexing every domain.*Request here expects.
func batteryPathParam(c echo.Context) (int, error) {
	return strconv.Atoi(c.Param("id"))
}

func (s *Server) GetBatteriesHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetSnapshotRequest{}, 5*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.GetSnapshotResponse)
	if !ok {
		return c.String(http.StatusServiceUnavailable, "unexpected response")
	}
	return c.JSON(http.StatusOK, snapshotToJSON(response.Snapshot))
}

func (s *Server) CalibrateHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.StartCalibrationRequest{}, 5*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, res.(domain.StartCalibrationResponse))
}

func (s *Server) SetBatteryMissingHandler(c echo.Context) error {
	battery, err := batteryPathParam(c)
	if err != nil {
		return c.String(http.StatusBadRequest, "invalid battery id")
	}
	var body struct {
		Missing bool `json:"missing"`
	}
	if err := c.Bind(&body); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.SetBatteryMissingRequest{Battery: battery, Missing: body.Missing}, 5*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, res.(domain.SetBatteryMissingResponse))
}

func (s *Server) SetBatterySoCHandler(c echo.Context) error {
	battery, err := batteryPathParam(c)
	if err != nil {
		return c.String(http.StatusBadRequest, "invalid battery id")
	}
	var body struct {
		SoC float64 `json:"soc"`
	}
	if err := c.Bind(&body); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	soc := fixedpoint.Q8(body.SoC * 256)
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.SetBatterySoCRequest{Battery: battery, SoC: soc}, 5*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, res.(domain.SetBatterySoCResponse))
}

func (s *Server) ResetBatterySoCHandler(c echo.Context) error {
	battery, err := batteryPathParam(c)
	if err != nil {
		return c.String(http.StatusBadRequest, "invalid battery id")
	}
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ResetBatterySoCRequest{Battery: battery}, 5*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, res.(domain.ResetBatterySoCResponse))
}

func (s *Server) SetStrategyHandler(c echo.Context) error {
	var body struct {
		Strategy uint8 `json:"strategy"`
	}
	if err := c.Bind(&body); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.SetMonitorStrategyRequest{Strategy: domain.MonitorStrategy(body.Strategy)}, 5*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, res.(domain.SetMonitorStrategyResponse))
}

type batterySnapshotJSON struct {
	Index         int     `json:"index"`
	Voltage       float64 `json:"voltage"`
	Current       float64 `json:"current"`
	SoC           float64 `json:"soc"`
	FillState     string  `json:"fill_state"`
	OpState       string  `json:"op_state"`
	HealthState   string  `json:"health_state"`
	Phase         string  `json:"charging_phase"`
	IsolationTime int     `json:"isolation_time"`
}

type loadPanelSnapshotJSON struct {
	Index   int     `json:"index"`
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
}

type engineSnapshotJSON struct {
	Batteries          []batterySnapshotJSON   `json:"batteries"`
	Loads              []loadPanelSnapshotJSON `json:"loads"`
	Panels             []loadPanelSnapshotJSON `json:"panels"`
	Temperature        float64                 `json:"temperature"`
	BatteryUnderCharge int                     `json:"battery_under_charge"`
	BatteryUnderLoad   int                     `json:"battery_under_load"`
	ChargerOff         bool                    `json:"charger_off"`
	DecisionStatus     uint16                  `json:"decision_status"`
}

// snapshotToJSON presents the engine's Q8 fixed-point fields as plain
// floats for clients that have no reason to know about the x256 scaling.
func snapshotToJSON(snapshot domain.EngineSnapshot) engineSnapshotJSON {
	out := engineSnapshotJSON{
		Temperature:        snapshot.Temperature.Float64(),
		BatteryUnderCharge: snapshot.BatteryUnderCharge,
		BatteryUnderLoad:   snapshot.BatteryUnderLoad,
		ChargerOff:         snapshot.ChargerOff,
		DecisionStatus:     snapshot.DecisionStatus,
	}
	for _, bat := range snapshot.Batteries {
		out.Batteries = append(out.Batteries, batterySnapshotJSON{
			Index:         bat.Index,
			Voltage:       bat.Voltage.Float64(),
			Current:       bat.Current.Float64(),
			SoC:           bat.SoC.Float64(),
			FillState:     bat.FillState.String(),
			OpState:       bat.OpState.String(),
			HealthState:   bat.HealthState.String(),
			Phase:         bat.Phase.String(),
			IsolationTime: bat.IsolationTime,
		})
	}
	for _, ld := range snapshot.Loads {
		out.Loads = append(out.Loads, loadPanelSnapshotJSON{Index: ld.Index, Voltage: ld.Voltage.Float64(), Current: ld.Current.Float64()})
	}
	for _, pnl := range snapshot.Panels {
		out.Panels = append(out.Panels, loadPanelSnapshotJSON{Index: pnl.Index, Voltage: pnl.Voltage.Float64(), Current: pnl.Current.Float64()})
	}
	return out
}

package supervisor

import (
	"context"
	"strconv"
)

// Service exposes the supervisor's operator command surface over RPC,
// replacing super.py's XMLRPCThread (the console integration it also
// offered is out of scope; this exposes only the command table).
type Service struct {
	controllers *Controllers
}

// NewService wraps controllers for RPC registration.
func NewService(controllers *Controllers) *Service { return &Service{controllers: controllers} }

const helpText = `AAL-PIP supervisor commands
  set_temp <temp>       desired electronics temp in deg C
  fg on|off
  sc on|off
  irid on|off
  hf on|off
  cases on|off
  cases normal_mode|storm_mode|update_mode
`

// Help returns the command summary.
func (s *Service) Help(_ struct{}, reply *string) error {
	*reply = helpText
	return nil
}

// SetTemp sets the electronics temperature setpoint, in degrees C.
func (s *Service) SetTemp(temp string, reply *string) error {
	v, err := strconv.ParseFloat(temp, 64)
	if err != nil {
		*reply = "failed"
		return err
	}
	s.controllers.Temp.SetSetpoint(v)
	*reply = "OK"
	return nil
}

// FG turns fluxgate power on or off.
func (s *Service) FG(desiredState string, reply *string) error {
	s.controllers.FGSCPower.SetFGPower(desiredState == "on")
	*reply = "OK"
	return nil
}

// SC turns search-coil power on or off.
func (s *Service) SC(desiredState string, reply *string) error {
	s.controllers.FGSCPower.SetSCPower(desiredState == "on")
	*reply = "OK"
	return nil
}

// HF turns HF radio power on or off.
func (s *Service) HF(desiredState string, reply *string) error {
	s.controllers.HFPower.SetMasterPowerEnable(desiredState == "on")
	*reply = "OK"
	return nil
}

// CASES enables/disables CASES power or changes its operating mode.
func (s *Service) CASES(command string, reply *string) error {
	switch command {
	case "on":
		s.controllers.CASESPower.SetMasterPowerEnable(true)
	case "off":
		s.controllers.CASESPower.SetMasterPowerEnable(false)
	case "normal_mode":
		s.controllers.CASESPower.SetMode("normal")
	case "storm_mode":
		s.controllers.CASESPower.SetMode("storm")
	case "update_mode":
		s.controllers.CASESPower.SetMode("update")
	}
	*reply = "OK"
	return nil
}

// Irid turns Iridium modem power on or off.
func (s *Service) Irid(desiredState string, reply *string) error {
	var err error
	switch desiredState {
	case "on":
		err = s.controllers.ModemPower.PowerOn(context.Background())
	case "off":
		err = s.controllers.ModemPower.PowerOff(context.Background())
	}
	if err != nil {
		*reply = "failed"
		return err
	}
	*reply = "OK"
	return nil
}

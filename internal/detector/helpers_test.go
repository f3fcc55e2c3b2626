package detector

import logx "otpbot/pkg/logx"

func testLogger() logx.Logger { return logx.Nop() }

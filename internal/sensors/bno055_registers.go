// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

// BNO055 register map, page 0 (Bosch datasheet section 4.2).
const (
	regChipID     = 0x00
	regQuatData   = 0x20 // 8 bytes: w, x, y, z as little-endian int16
	regCalibStat  = 0x35
	regOprMode    = 0x3D
	regPwrMode    = 0x3E
	regSysTrigger = 0x3F
	regCalibData  = 0x55 // 22 bytes: sensor offsets and radii
)

const (
	chipID = 0xA0

	// operating modes (OPR_MODE register)
	modeConfig = 0x00
	modeNDOF   = 0x0C

	pwrNormal = 0x00

	calibProfileLen = 22
)

// quatScale converts raw quaternion LSBs to unit-quaternion components
// (2^14 LSB per unit).
const quatScale = 1.0 / 16384.0

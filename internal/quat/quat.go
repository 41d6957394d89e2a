package quat

// Quaternion is a unit orientation quaternion in w, x, y, z order.
type Quaternion [4]float32

// Zero is the placeholder streamed for absent or failed sensors.
var Zero = Quaternion{}

func (q Quaternion) IsZero() bool {
	return q == Zero
}

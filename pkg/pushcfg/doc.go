// Package pushcfg handles single-field configuration updates pushed over
// MQTT.
//
// Updates arrive on subtopics of the device's data topic. A topic whose
// final path segment is "set" names one field in its preceding segment
// (for example <topic>/ch0/set) and carries the new value as a text
// payload. A handled update is acknowledged two ways: the changed field is
// echoed into the data document which is immediately republished, and the
// retained command is cleared by publishing an empty payload back to the
// command topic.
//
// Counter input kind updates go through the cycle's meter.SessionContext,
// so changing one channel never reverts a change the other channel
// received earlier in the same session.
package pushcfg

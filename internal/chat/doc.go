// Package chat runs question and answer exchanges with the document chat
// backend over the shared real-time socket.
//
// A question is sent as user_question. The answer streams back as a sequence
// of bot_chunk events terminated by bot_done. Chunks carry no question id, so
// a socket should have at most one question in flight.
package chat

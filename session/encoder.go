package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const sessionFormatVersionCurrent = 1

func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)

	if len(s.AccountID) > 255 {
		return nil, errors.New("accountID too long")
	}
	buf.WriteByte(byte(len(s.AccountID)))
	buf.WriteString(s.AccountID)

	if len(s.Fingerprint) > 255 {
		return nil, errors.New("fingerprint too long")
	}
	buf.WriteByte(byte(len(s.Fingerprint)))
	buf.WriteString(s.Fingerprint)

	buf.Write(s.TokenHash[:])

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, errors.New("unsupported session schema version")
	}

	s := &Session{SchemaVersion: version}

	acctLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	accountID := make([]byte, acctLen)
	if _, err := io.ReadFull(reader, accountID); err != nil {
		return nil, err
	}
	s.AccountID = string(accountID)

	fpLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	fingerprint := make([]byte, fpLen)
	if _, err := io.ReadFull(reader, fingerprint); err != nil {
		return nil, err
	}
	s.Fingerprint = string(fingerprint)

	if _, err := io.ReadFull(reader, s.TokenHash[:]); err != nil {
		return nil, err
	}

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}

	return s, nil
}

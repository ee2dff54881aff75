package domain

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidSelection 用户输入既不是有效序号也不匹配任何地址
var ErrInvalidSelection = errors.New("invalid mailbox selection")

// ResolveSelection 根据用户输入从最近展示的列表中选出邮箱
//
// 输入为纯数字时按 1 起始的序号解析（列表为最新在前）；
// 否则与地址做大小写不敏感的精确匹配。
func ResolveSelection(displayed []MailboxRef, input string) (MailboxRef, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return MailboxRef{}, ErrInvalidSelection
	}

	if isDigits(input) {
		pos, err := strconv.Atoi(input)
		if err != nil || pos < 1 || pos > len(displayed) {
			return MailboxRef{}, ErrInvalidSelection
		}
		return displayed[pos-1], nil
	}

	for _, ref := range displayed {
		if strings.EqualFold(ref.Email, input) {
			return ref, nil
		}
	}
	return MailboxRef{}, ErrInvalidSelection
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
